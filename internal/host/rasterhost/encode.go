package rasterhost

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strconv"

	"github.com/mgreer/layerexport/internal/host"
	"github.com/mgreer/layerexport/internal/layer"
)

// Export encodes a layer's raster to path. A nil cfg makes the call
// interactive: the prompter supplies (or the user cancels) the format
// configuration, which is returned for caching.
func (h *Host) Export(_ *layer.Image, node *layer.Node, path, format string, cfg host.FormatConfig) (host.FormatConfig, error) {
	if !h.SupportsFormat(format) {
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	pixels, ok := h.pixels[node]
	if !ok {
		return nil, fmt.Errorf("layer %q has no pixels registered", node.Name)
	}

	if cfg == nil {
		if h.prompter == nil {
			return nil, fmt.Errorf("interactive %s export without a prompter", format)
		}
		var err error
		cfg, err = h.prompter.ConfigureFormat(format, defaultConfig(format))
		if err != nil {
			return nil, err
		}
	}

	// Normalize to the origin so layer offsets never leak into the file.
	b := pixels.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), pixels, b.Min, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	if err := encodeImage(f, out, format, cfg); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", path, err)
	}
	return cfg, nil
}

// SupportsFormat reports the formats the standard encoders cover.
func (h *Host) SupportsFormat(format string) bool {
	switch format {
	case "png", "jpeg", "gif":
		return true
	default:
		return false
	}
}

// AlwaysInteractive is false for every format: configurations cache cleanly.
func (h *Host) AlwaysInteractive(string) bool {
	return false
}

// defaultConfig returns the prompt defaults per format.
func defaultConfig(format string) host.FormatConfig {
	switch format {
	case "png":
		return host.FormatConfig{"compression": "default"}
	case "jpeg":
		return host.FormatConfig{"quality": "90"}
	default:
		return host.FormatConfig{}
	}
}

func encodeImage(w io.Writer, img *image.NRGBA, format string, cfg host.FormatConfig) error {
	switch format {
	case "png":
		level, err := compressionLevel(cfg["compression"])
		if err != nil {
			return err
		}
		enc := png.Encoder{CompressionLevel: level}
		return enc.Encode(w, img)

	case "jpeg":
		quality := 90
		if q, ok := cfg["quality"]; ok && q != "" {
			v, err := strconv.Atoi(q)
			if err != nil || v < 1 || v > 100 {
				return fmt.Errorf("invalid jpeg quality %q", q)
			}
			quality = v
		}
		return jpeg.Encode(w, flattenOnWhite(img), &jpeg.Options{Quality: quality})

	case "gif":
		return gif.Encode(w, img, nil)

	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func compressionLevel(s string) (png.CompressionLevel, error) {
	switch s {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	default:
		return 0, fmt.Errorf("invalid png compression %q", s)
	}
}

// flattenOnWhite composites transparency over white, since JPEG has no
// alpha channel.
func flattenOnWhite(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Over)
	return out
}
