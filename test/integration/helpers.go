package integration

import (
	"archive/zip"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mgreer/layerexport/internal/clock"
	"github.com/mgreer/layerexport/internal/export"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/hash"
	"github.com/mgreer/layerexport/internal/host/rasterhost"
	"github.com/mgreer/layerexport/internal/planner"
	"github.com/mgreer/layerexport/internal/settings"
)

// writeORA assembles an OpenRaster file from a stack.xml document and named
// PNG rasters.
func writeORA(t *testing.T, dir, name, stackXML string, rasters map[string]*image.NRGBA) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)

	w, err := zw.Create("stack.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(stackXML)); err != nil {
		t.Fatal(err)
	}
	for rasterName, raster := range rasters {
		w, err := zw.Create(rasterName)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(w, raster); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// runExport loads the .ora, plans with the given settings, and runs the
// driver end to end with a scripted prompter.
func runExport(t *testing.T, oraPath, outDir string, cfg *settings.Settings) *export.Result {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid settings: %v", err)
	}

	h := rasterhost.New(&rasterhost.ScriptedPrompter{})
	img, err := h.LoadORA(oraPath)
	if err != nil {
		t.Fatalf("loading %s: %v", oraPath, err)
	}

	plan, err := planner.Build(img, planner.OptionsFromSettings(outDir, cfg))
	if err != nil {
		t.Fatalf("planning: %v", err)
	}

	var chooser export.OverwriteChooser
	if cfg.Overwrite != settings.OverwriteAsk {
		decision, err := export.ParseOverwriteDecision(cfg.Overwrite)
		if err != nil {
			t.Fatalf("overwrite policy: %v", err)
		}
		chooser = export.FixedChooser{Decision: decision}
	}

	driver := export.New(h, fsops.NewRealFS(), hash.NewSHA256Hasher(), &clock.RealClock{}, nil)
	result, err := driver.Run(context.Background(), &export.Request{
		Image:   img,
		Plan:    plan,
		Options: export.OptionsFromSettings(cfg),
		Chooser: chooser,
	})
	if err != nil {
		t.Fatalf("export run: %v", err)
	}
	return result
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
	return img
}

func colorAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
