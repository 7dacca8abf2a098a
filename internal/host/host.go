// Package host declares the capability surface the export engine consumes
// from an image-editing host.
//
// The engine never touches pixels itself: duplication, merging, cropping,
// compositing, and encoding all happen behind this interface. A host may be
// interactive (Export can suspend on a native format dialog), so calls are
// blocking and must only be made from the single driver goroutine.
package host

import (
	"errors"
	"image"

	"github.com/mgreer/layerexport/internal/layer"
)

// ErrDialogCancelled is returned by Export when the user dismisses the
// interactive format dialog without confirming. It is distinct from batch
// cancellation: the batch stops, but the surrounding control surface stays
// open for correction.
var ErrDialogCancelled = errors.New("format dialog cancelled")

// FormatConfig is the host-opaque configuration for one export format,
// returned by the first interactive export and reused for subsequent
// non-interactive exports of the same format. The engine only stores and
// forwards it; keys and values are host vocabulary.
type FormatConfig map[string]string

// Clone returns a copy so cached configurations cannot be mutated by the
// host between exports.
func (c FormatConfig) Clone() FormatConfig {
	if c == nil {
		return nil
	}
	out := make(FormatConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Host is the image-editing capability surface. All operations act on
// disposable working images owned by the current export run; the original
// image is never mutated.
type Host interface {
	// NewWorkingImage creates an empty disposable image with the source
	// image's canvas, used as the scratch space for one export run.
	NewWorkingImage(src *layer.Image) (*layer.Image, error)

	// DeleteWorkingImage releases a working image. Invoked on every exit
	// path of a run: completion, cancellation, and failure.
	DeleteWorkingImage(img *layer.Image)

	// ClearWorkingImage removes every layer from a working image,
	// preparing it for the next spec.
	ClearWorkingImage(img *layer.Image)

	// CopyLayerInto copies a node (from the original image) into the top
	// of the working image and returns the copy.
	CopyLayerInto(dst *layer.Image, src *layer.Node) (*layer.Node, error)

	// MergeGroupToLayer flattens a group inside the working image into a
	// single leaf honoring descendant visibility, opacity, and mode.
	MergeGroupToLayer(img *layer.Image, group *layer.Node) (*layer.Node, error)

	// MergeLayers composites the given working-image layers, honoring
	// their current stacking order, into one leaf that replaces them.
	MergeLayers(img *layer.Image, nodes []*layer.Node) (*layer.Node, error)

	// CropToOpaqueBounds crops a layer to its opaque (non-transparent)
	// bounds.
	CropToOpaqueBounds(img *layer.Image, node *layer.Node) error

	// CropLayer crops a layer to the given bounds in image coordinates,
	// discarding content outside them and padding uncovered area with
	// transparency.
	CropLayer(img *layer.Image, node *layer.Node, bounds image.Rectangle) error

	// ResizeToCanvas resizes a layer to the working image's canvas.
	ResizeToCanvas(img *layer.Image, node *layer.Node) error

	// ResizeImageToLayers shrinks or grows the working image canvas to
	// the union of its layers' bounds.
	ResizeImageToLayers(img *layer.Image) error

	// Export encodes a layer to path in the given format. When cfg is
	// nil the call is interactive: it blocks on the host's native format
	// dialog and returns the chosen configuration, or ErrDialogCancelled.
	// When cfg is non-nil the call is non-interactive and reuses it.
	Export(img *layer.Image, node *layer.Node, path, format string, cfg FormatConfig) (FormatConfig, error)

	// SupportsFormat reports whether the host can encode the format.
	SupportsFormat(format string) bool

	// AlwaysInteractive reports whether the host re-prompts for this
	// format on every export regardless of a cached configuration. This
	// is a host limitation the engine surfaces, not works around.
	AlwaysInteractive(format string) bool
}
