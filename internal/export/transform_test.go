package export

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgreer/layerexport/internal/background"
	"github.com/mgreer/layerexport/internal/clock"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/hash"
	"github.com/mgreer/layerexport/internal/host/rasterhost"
	"github.com/mgreer/layerexport/internal/layer"
	"github.com/mgreer/layerexport/internal/naming"
	"github.com/mgreer/layerexport/internal/planner"
)

var (
	bgRed      = color.NRGBA{R: 255, A: 255}
	spriteBlue = color.NRGBA{B: 255, A: 255}
)

// compositeFixture builds a 20x16 image with a 16x12 red background layer
// and a foreground raster that is transparent except for an opaque blue 4x4
// block at (8,8). The oversized transparent raster is what makes autocrop
// observable.
func compositeFixture() (*rasterhost.Host, *layer.Image) {
	h := rasterhost.New(&rasterhost.ScriptedPrompter{})
	img := &layer.Image{Name: "art", Width: 20, Height: 16}

	bgPix := image.NewNRGBA(image.Rect(0, 0, 16, 12))
	draw.Draw(bgPix, bgPix.Bounds(), &image.Uniform{C: bgRed}, image.Point{}, draw.Src)
	bg := layer.NewLeaf("[shade]")
	h.SetPixels(bg, bgPix)

	spritePix := image.NewNRGBA(image.Rect(0, 0, 20, 16))
	draw.Draw(spritePix, image.Rect(8, 8, 12, 12), &image.Uniform{C: spriteBlue}, image.Point{}, draw.Src)
	sprite := layer.NewLeaf("sprite")
	h.SetPixels(sprite, spritePix)

	img.Layers = []*layer.Node{sprite, bg}
	return h, img
}

func decodeOutput(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return decoded
}

func sampleAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}

// The crop and composite sequence depends on three independent options; each
// combination produces a different exported canvas for the same source.
func TestRun_CropAndCompositeMatrix(t *testing.T) {
	type sample struct {
		x, y    int
		want    color.NRGBA
		cleared bool // want fully transparent instead of a color
	}

	cases := []struct {
		name             string
		autocrop         bool
		useImageSize     bool
		cropToBackground bool
		wantW, wantH     int
		samples          []sample
	}{
		{
			name:     "autocrop clips the composite to the layer box",
			autocrop: true,
			wantW:    4, wantH: 4,
			samples: []sample{
				{x: 0, y: 0, want: spriteBlue},
				{x: 3, y: 3, want: spriteBlue},
			},
		},
		{
			name:             "crop-to-background keeps the background box",
			autocrop:         true,
			cropToBackground: true,
			wantW:            16, wantH: 12,
			samples: []sample{
				{x: 0, y: 0, want: bgRed},
				{x: 9, y: 9, want: spriteBlue},
			},
		},
		{
			name:  "no autocrop composites at the union of the layers",
			wantW: 20, wantH: 16,
			samples: []sample{
				{x: 0, y: 0, want: bgRed},
				{x: 9, y: 9, want: spriteBlue},
				{x: 18, y: 14, cleared: true},
			},
		},
		{
			name:         "canvas-size export pins the composite to the canvas",
			autocrop:     true,
			useImageSize: true,
			wantW:        20, wantH: 16,
			samples: []sample{
				{x: 0, y: 0, want: bgRed},
				{x: 9, y: 9, want: spriteBlue},
				{x: 18, y: 14, cleared: true},
			},
		},
		{
			name:             "canvas-size export with crop-to-background",
			autocrop:         true,
			useImageSize:     true,
			cropToBackground: true,
			wantW:            20, wantH: 16,
			samples: []sample{
				{x: 0, y: 0, want: bgRed},
				{x: 9, y: 9, want: spriteBlue},
				{x: 18, y: 14, cleared: true},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, img := compositeFixture()
			dir := t.TempDir()

			plan, err := planner.Build(img, planner.Options{
				OutputDir:        dir,
				ExtensionMode:    naming.ExtDefault,
				StripMode:        naming.StripIfIdentical,
				BracketMode:      background.ModeBackground,
				DefaultExtension: "png",
			})
			if err != nil {
				t.Fatalf("planning failed: %v", err)
			}
			if plan.Total() != 1 {
				t.Fatalf("plan exports %d layers, want the foreground only", plan.Total())
			}

			d := New(h, fsops.NewRealFS(), hash.NewFakeHasher(),
				clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)), nil)
			result, err := d.Run(context.Background(), &Request{
				Image: img,
				Plan:  plan,
				Options: Options{
					Autocrop:         tc.autocrop,
					UseImageSize:     tc.useImageSize,
					CropToBackground: tc.cropToBackground,
					DefaultExtension: "png",
				},
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if result.Written() != 1 {
				t.Fatalf("written = %d, want 1", result.Written())
			}

			out := decodeOutput(t, filepath.Join(dir, "sprite.png"))
			if out.Bounds().Dx() != tc.wantW || out.Bounds().Dy() != tc.wantH {
				t.Fatalf("exported canvas = %dx%d, want %dx%d",
					out.Bounds().Dx(), out.Bounds().Dy(), tc.wantW, tc.wantH)
			}
			for _, s := range tc.samples {
				got := sampleAt(out, s.x, s.y)
				if s.cleared {
					if got.A != 0 {
						t.Errorf("pixel (%d,%d) = %v, want transparent", s.x, s.y, got)
					}
					continue
				}
				if got != s.want {
					t.Errorf("pixel (%d,%d) = %v, want %v", s.x, s.y, got, s.want)
				}
			}
		})
	}
}
