package rasterhost

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mgreer/layerexport/internal/layer"
)

// oraNode is one element of the OpenRaster stack.xml tree. Stacks and
// layers interleave, so children are decoded into one ordered slice and
// told apart by element name.
type oraNode struct {
	XMLName     xml.Name
	Name        string    `xml:"name,attr"`
	Src         string    `xml:"src,attr"`
	X           int       `xml:"x,attr"`
	Y           int       `xml:"y,attr"`
	Visibility  string    `xml:"visibility,attr"`
	Opacity     string    `xml:"opacity,attr"`
	CompositeOp string    `xml:"composite-op,attr"`
	Children    []oraNode `xml:",any"`
}

type oraImage struct {
	XMLName xml.Name `xml:"image"`
	Width   int      `xml:"w,attr"`
	Height  int      `xml:"h,attr"`
	Stack   oraNode  `xml:"stack"`
}

// LoadORA opens an OpenRaster file and builds the layer tree, registering
// each leaf's pixels with the host.
func (h *Host) LoadORA(path string) (*layer.Image, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		_ = zr.Close()
	}()

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	stackFile, ok := files["stack.xml"]
	if !ok {
		return nil, fmt.Errorf("%s: missing stack.xml", path)
	}
	data, err := readZipFile(stackFile)
	if err != nil {
		return nil, fmt.Errorf("reading stack.xml: %w", err)
	}

	var doc oraImage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing stack.xml: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	img := &layer.Image{Name: name, Width: doc.Width, Height: doc.Height}
	for _, child := range doc.Stack.Children {
		node, err := h.buildNode(files, child)
		if err != nil {
			return nil, err
		}
		img.Layers = append(img.Layers, node)
	}
	return img, nil
}

func (h *Host) buildNode(files map[string]*zip.File, src oraNode) (*layer.Node, error) {
	visible := src.Visibility != "hidden"
	opacity := 1.0
	if src.Opacity != "" {
		if v, err := strconv.ParseFloat(src.Opacity, 64); err == nil {
			opacity = v
		}
	}

	switch src.XMLName.Local {
	case "stack":
		group := layer.NewGroup(src.Name)
		group.Visible = visible
		group.Opacity = opacity
		group.Mode = blendMode(src.CompositeOp)
		for _, child := range src.Children {
			node, err := h.buildNode(files, child)
			if err != nil {
				return nil, err
			}
			group.AddChild(node)
		}
		return group, nil

	case "layer":
		f, ok := files[src.Src]
		if !ok {
			return nil, fmt.Errorf("layer %q: missing source %q", src.Name, src.Src)
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", src.Name, err)
		}
		decoded, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("layer %q: decoding %s: %w", src.Name, src.Src, err)
		}

		node := layer.NewLeaf(src.Name)
		node.Visible = visible
		node.Opacity = opacity
		node.Mode = blendMode(src.CompositeOp)

		bounds := decoded.Bounds().Add(image.Pt(src.X, src.Y)).Sub(decoded.Bounds().Min)
		node.Bounds = bounds
		pixels := image.NewNRGBA(bounds)
		draw.Draw(pixels, bounds, decoded, decoded.Bounds().Min, draw.Src)
		h.pixels[node] = pixels
		return node, nil

	default:
		return nil, fmt.Errorf("unsupported stack.xml element <%s>", src.XMLName.Local)
	}
}

// blendMode maps an OpenRaster composite-op to the engine's mode names.
func blendMode(op string) string {
	switch op {
	case "", "svg:src-over":
		return "normal"
	default:
		return strings.TrimPrefix(op, "svg:")
	}
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}
