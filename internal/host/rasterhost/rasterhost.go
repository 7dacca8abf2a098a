// Package rasterhost is an in-process export host over OpenRaster (.ora)
// documents, composited with the standard image packages.
//
// It keeps each leaf's pixels in an NRGBA buffer keyed by the layer node,
// so the engine's working-image operations (copy, merge, crop, resize) are
// plain raster transforms. Blend modes other than normal composite as
// source-over; the engine's ignore-layer-modes option forces normal mode
// anyway.
package rasterhost

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/mgreer/layerexport/internal/layer"
)

// Host implements host.Host over in-memory rasters.
type Host struct {
	prompter Prompter
	pixels   map[*layer.Node]*image.NRGBA
}

// New creates a host. The prompter supplies interactive format dialogs; a
// nil prompter makes every interactive export fail, which suits callers
// that always seed format configurations.
func New(prompter Prompter) *Host {
	return &Host{
		prompter: prompter,
		pixels:   make(map[*layer.Node]*image.NRGBA),
	}
}

// Pixels returns the raster registered for a node, for tests and for
// callers that loaded the image through this host.
func (h *Host) Pixels(node *layer.Node) *image.NRGBA {
	return h.pixels[node]
}

// SetPixels registers a raster for a node. The raster's bounds become the
// node's bounds.
func (h *Host) SetPixels(node *layer.Node, pixels *image.NRGBA) {
	node.Bounds = pixels.Bounds()
	h.pixels[node] = pixels
}

// NewWorkingImage creates an empty image with the source canvas.
func (h *Host) NewWorkingImage(src *layer.Image) (*layer.Image, error) {
	return &layer.Image{Name: src.Name, Width: src.Width, Height: src.Height}, nil
}

// DeleteWorkingImage drops every raster owned by the image.
func (h *Host) DeleteWorkingImage(img *layer.Image) {
	h.ClearWorkingImage(img)
}

// ClearWorkingImage removes all layers and their rasters.
func (h *Host) ClearWorkingImage(img *layer.Image) {
	for _, n := range img.Layers {
		h.dropSubtree(n)
	}
	img.Layers = nil
}

func (h *Host) dropSubtree(n *layer.Node) {
	delete(h.pixels, n)
	for _, c := range n.Children {
		h.dropSubtree(c)
	}
}

// CopyLayerInto deep-copies a node from the original image into the top of
// the working image, cloning every raster so transforms never touch the
// source.
func (h *Host) CopyLayerInto(dst *layer.Image, src *layer.Node) (*layer.Node, error) {
	cp, err := h.copyTree(src)
	if err != nil {
		return nil, err
	}
	dst.Layers = append([]*layer.Node{cp}, dst.Layers...)
	return cp, nil
}

func (h *Host) copyTree(src *layer.Node) (*layer.Node, error) {
	if src.IsGroup() {
		group := layer.NewGroup(src.Name)
		group.Visible = src.Visible
		group.Opacity = src.Opacity
		group.Mode = src.Mode
		group.Bounds = src.Bounds
		for _, c := range src.Children {
			cp, err := h.copyTree(c)
			if err != nil {
				return nil, err
			}
			group.AddChild(cp)
		}
		return group, nil
	}

	pixels, ok := h.pixels[src]
	if !ok {
		return nil, fmt.Errorf("layer %q has no pixels registered", src.Name)
	}
	cp := layer.NewLeaf(src.Name)
	cp.Visible = src.Visible
	cp.Opacity = src.Opacity
	cp.Mode = src.Mode
	cp.Bounds = src.Bounds
	h.pixels[cp] = cloneNRGBA(pixels)
	return cp, nil
}

// MergeGroupToLayer flattens a group into one leaf, honoring descendant
// visibility and opacity, and replaces the group in the image.
func (h *Host) MergeGroupToLayer(img *layer.Image, group *layer.Node) (*layer.Node, error) {
	if !group.IsGroup() {
		return group, nil
	}

	bounds := subtreeBounds(group.Children)
	merged := layer.NewLeaf(group.Name)
	merged.Opacity = group.Opacity
	merged.Mode = group.Mode
	out := image.NewNRGBA(bounds)
	if err := h.compositeInto(out, group.Children); err != nil {
		return nil, err
	}
	merged.Bounds = bounds
	h.pixels[merged] = out

	replaced := false
	for i, n := range img.Layers {
		if n == group {
			img.Layers[i] = merged
			replaced = true
			break
		}
	}
	if !replaced {
		img.Layers = append([]*layer.Node{merged}, img.Layers...)
	}
	h.dropSubtree(group)
	return merged, nil
}

// MergeLayers composites the given top-level layers, in their current
// stacking order, into one leaf that takes the topmost one's position.
func (h *Host) MergeLayers(img *layer.Image, nodes []*layer.Node) (*layer.Node, error) {
	if len(nodes) == 1 && !nodes[0].IsGroup() {
		return nodes[0], nil
	}

	member := make(map[*layer.Node]bool, len(nodes))
	for _, n := range nodes {
		member[n] = true
	}

	// Collect in stacking order so the composite matches what the image
	// shows.
	var ordered []*layer.Node
	topIndex := -1
	for i, n := range img.Layers {
		if member[n] {
			ordered = append(ordered, n)
			if topIndex < 0 {
				topIndex = i
			}
		}
	}
	if len(ordered) != len(nodes) {
		return nil, fmt.Errorf("merging layers not present in the image")
	}

	bounds := subtreeBounds(ordered)
	out := image.NewNRGBA(bounds)
	if err := h.compositeInto(out, ordered); err != nil {
		return nil, err
	}

	merged := layer.NewLeaf(ordered[len(ordered)-1].Name)
	merged.Bounds = bounds
	h.pixels[merged] = out

	kept := make([]*layer.Node, 0, len(img.Layers))
	for i, n := range img.Layers {
		if member[n] {
			if i == topIndex {
				kept = append(kept, merged)
			}
			h.dropSubtree(n)
			continue
		}
		kept = append(kept, n)
	}
	img.Layers = kept
	return merged, nil
}

// compositeInto draws nodes bottom-up (the slice is top-first, matching the
// image's layer order).
func (h *Host) compositeInto(dst *image.NRGBA, nodes []*layer.Node) error {
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if !n.Visible {
			continue
		}
		if n.IsGroup() {
			bounds := subtreeBounds(n.Children)
			if bounds.Empty() {
				continue
			}
			inner := image.NewNRGBA(bounds)
			if err := h.compositeInto(inner, n.Children); err != nil {
				return err
			}
			drawWithOpacity(dst, inner, bounds, n.Opacity)
			continue
		}
		pixels, ok := h.pixels[n]
		if !ok {
			return fmt.Errorf("layer %q has no pixels registered", n.Name)
		}
		drawWithOpacity(dst, pixels, n.Bounds, n.Opacity)
	}
	return nil
}

func drawWithOpacity(dst *image.NRGBA, src image.Image, bounds image.Rectangle, opacity float64) {
	r := bounds.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	if opacity >= 1.0 {
		draw.Draw(dst, r, src, r.Min, draw.Over)
		return
	}
	alpha := uint8(opacity * 255)
	draw.DrawMask(dst, r, src, r.Min, &image.Uniform{color.Alpha{A: alpha}}, image.Point{}, draw.Over)
}

// CropToOpaqueBounds shrinks a layer to the bounding box of its non-
// transparent pixels. A fully transparent layer keeps its bounds.
func (h *Host) CropToOpaqueBounds(_ *layer.Image, node *layer.Node) error {
	pixels, ok := h.pixels[node]
	if !ok {
		return fmt.Errorf("layer %q has no pixels registered", node.Name)
	}

	opaque, found := opaqueBounds(pixels)
	if !found || opaque == pixels.Bounds() {
		return nil
	}

	cropped := image.NewNRGBA(opaque)
	draw.Draw(cropped, opaque, pixels, opaque.Min, draw.Src)
	node.Bounds = opaque
	h.pixels[node] = cropped
	return nil
}

func opaqueBounds(p *image.NRGBA) (image.Rectangle, bool) {
	b := p.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	found := false
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if p.NRGBAAt(x, y).A == 0 {
				continue
			}
			found = true
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x+1 > maxX {
				maxX = x + 1
			}
			if y+1 > maxY {
				maxY = y + 1
			}
		}
	}
	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX, maxY), true
}

// CropLayer crops a layer to the given bounds, discarding pixels outside
// them and padding uncovered area with transparency.
func (h *Host) CropLayer(_ *layer.Image, node *layer.Node, bounds image.Rectangle) error {
	pixels, ok := h.pixels[node]
	if !ok {
		return fmt.Errorf("layer %q has no pixels registered", node.Name)
	}
	if bounds == pixels.Bounds() {
		node.Bounds = bounds
		return nil
	}

	out := image.NewNRGBA(bounds)
	r := bounds.Intersect(pixels.Bounds())
	if !r.Empty() {
		draw.Draw(out, r, pixels, r.Min, draw.Src)
	}
	node.Bounds = bounds
	h.pixels[node] = out
	return nil
}

// ResizeToCanvas pins a layer to the image canvas, cropping or padding with
// transparency as needed.
func (h *Host) ResizeToCanvas(img *layer.Image, node *layer.Node) error {
	pixels, ok := h.pixels[node]
	if !ok {
		return fmt.Errorf("layer %q has no pixels registered", node.Name)
	}

	canvas := img.Canvas()
	out := image.NewNRGBA(canvas)
	r := pixels.Bounds().Intersect(canvas)
	if !r.Empty() {
		draw.Draw(out, r, pixels, r.Min, draw.Src)
	}
	node.Bounds = canvas
	h.pixels[node] = out
	return nil
}

// ResizeImageToLayers fits the canvas to the union of the layers' bounds
// and translates everything so the canvas origin stays at zero.
func (h *Host) ResizeImageToLayers(img *layer.Image) error {
	union := subtreeBounds(img.Layers)
	if union.Empty() {
		return nil
	}

	offset := union.Min
	if offset != (image.Point{}) {
		for _, n := range img.Layers {
			h.translateSubtree(n, offset)
		}
	}
	img.Width = union.Dx()
	img.Height = union.Dy()
	return nil
}

func (h *Host) translateSubtree(n *layer.Node, offset image.Point) {
	n.Bounds = n.Bounds.Sub(offset)
	if p, ok := h.pixels[n]; ok {
		p.Rect = p.Rect.Sub(offset)
	}
	for _, c := range n.Children {
		h.translateSubtree(c, offset)
	}
}

// subtreeBounds unions the bounds of all leaves beneath the nodes.
func subtreeBounds(nodes []*layer.Node) image.Rectangle {
	var union image.Rectangle
	for _, n := range nodes {
		if n.IsGroup() {
			union = union.Union(subtreeBounds(n.Children))
			continue
		}
		union = union.Union(n.Bounds)
	}
	return union
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(src.Bounds())
	copy(out.Pix, src.Pix)
	return out
}
