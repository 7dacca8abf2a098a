// Package export executes an export plan against a host.
//
// The driver walks the plan's specs in order and, for each one, builds the
// layer inside a disposable working image (background compositing, group
// merging, cropping, canvas sizing), resolves overwrite conflicts, and asks
// the host to encode the result. One run moves through a small state
// machine: idle, running, then completed, cancelled, or failed. Cancellation
// is checked between layers, never mid-layer, so every file on disk is
// whole.
package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mgreer/layerexport/internal/clock"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/hash"
	"github.com/mgreer/layerexport/internal/host"
	"github.com/mgreer/layerexport/internal/layer"
	"github.com/mgreer/layerexport/internal/naming"
	"github.com/mgreer/layerexport/internal/planner"
	"github.com/mgreer/layerexport/internal/settings"
)

// ErrorPolicy decides what a layer failure does to the rest of the batch.
type ErrorPolicy int

const (
	// AbortOnError stops the run at the first failing layer. Files already
	// exported remain on disk.
	AbortOnError ErrorPolicy = iota

	// SkipOnError records the failure and continues with the next layer.
	SkipOnError
)

// ParseErrorPolicy parses the persisted on-error policy.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case settings.OnErrorAbort:
		return AbortOnError, nil
	case settings.OnErrorSkip:
		return SkipOnError, nil
	default:
		return 0, fmt.Errorf("unknown on-error policy %q", s)
	}
}

// Options are the driver-time configuration axes. Planning-time options
// (layout, filtering, naming) are already baked into the plan.
type Options struct {
	// Autocrop crops each exported layer to its opaque bounds.
	Autocrop bool

	// UseImageSize exports at the image canvas size instead of the
	// layer's own bounds.
	UseImageSize bool

	// CropToBackground crops composited exports to the background's
	// bounds instead of the foreground layer's.
	CropToBackground bool

	// IgnoreLayerModes forces normal blend mode before export.
	IgnoreLayerModes bool

	// DefaultExtension is the fallback extension when a layer's own
	// format turns out to be unusable. Normalized, no leading period.
	DefaultExtension string

	// OnError is the partial-failure policy.
	OnError ErrorPolicy
}

// OptionsFromSettings derives driver options from validated settings.
func OptionsFromSettings(s *settings.Settings) Options {
	policy := AbortOnError
	if s.OnError == settings.OnErrorSkip {
		policy = SkipOnError
	}
	return Options{
		Autocrop:         s.Autocrop,
		UseImageSize:     s.UseImageSize,
		CropToBackground: s.CropToBackground,
		IgnoreLayerModes: s.IgnoreLayerModes,
		DefaultExtension: s.DefaultExtension,
		OnError:          policy,
	}
}

// Progress reports one handled layer. Index is 1-based and counts handled
// layers, including skipped and (under SkipOnError) failed ones.
type Progress struct {
	RunID   uuid.UUID
	Index   int
	Total   int
	Path    string
	Skipped bool
}

// ProgressFunc receives progress updates. It is called from the driver
// goroutine after each layer.
type ProgressFunc func(Progress)

// ExportedLayer is the accounting record for one handled layer.
type ExportedLayer struct {
	// Layer is the original layer name.
	Layer string

	// Path is where the file landed, after overwrite resolution and any
	// format fallback.
	Path string

	// Format is the format actually used.
	Format string

	// Skipped is set when an existing file was kept under the skip
	// overwrite policy. No file was written.
	Skipped bool

	// Checksum is the hash of the written file, empty for skipped layers.
	Checksum string

	// Duration is the wall time spent on this layer.
	Duration time.Duration
}

// LayerFailure records a layer that could not be exported.
type LayerFailure struct {
	Layer string
	Path  string
	Err   error
}

// Result is the outcome of one run. On cancellation or failure it still
// accounts for everything exported before the stop.
type Result struct {
	// RunID identifies the run in logs and progress updates.
	RunID uuid.UUID

	// State is the terminal state of the run.
	State State

	// Exported lists handled layers in execution order.
	Exported []ExportedLayer

	// Failures lists failed layers. Non-empty together with
	// StateCompleted means failures were skipped over.
	Failures []LayerFailure

	// FormatConfigs holds the per-format configurations gathered during
	// the run, seeded from the request. Callers persist these so the next
	// run can reuse them without prompting.
	FormatConfigs map[string]host.FormatConfig

	StartedAt  time.Time
	FinishedAt time.Time
}

// Written returns the number of files actually written.
func (r *Result) Written() int {
	n := 0
	for _, e := range r.Exported {
		if !e.Skipped {
			n++
		}
	}
	return n
}

// Request describes one export run.
type Request struct {
	// Image is the source image. It is never mutated; the driver copies
	// layers into a working image owned by the run.
	Image *layer.Image

	// Plan is the precomputed export plan, consumed in order.
	Plan *planner.Plan

	// Options are the driver-time options.
	Options Options

	// FormatConfigs seeds the per-format configuration cache, typically
	// from the previous run's persisted configs. May be nil.
	FormatConfigs map[string]host.FormatConfig

	// Chooser resolves overwrite conflicts. Nil means replace.
	Chooser OverwriteChooser

	// Progress receives per-layer updates. May be nil.
	Progress ProgressFunc
}

// Driver runs export plans. A driver is not safe for concurrent runs; the
// host's interactive calls require a single driving goroutine.
type Driver struct {
	host   host.Host
	fs     fsops.FS
	hasher hash.Hasher
	clock  clock.Clock
	logger *zap.Logger
	state  State
}

// New creates a driver. A nil logger disables logging.
func New(h host.Host, fs fsops.FS, hasher hash.Hasher, clk clock.Clock, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		host:   h,
		fs:     fs,
		hasher: hasher,
		clock:  clk,
		logger: logger,
		state:  StateIdle,
	}
}

// State returns the driver's current state: the running state during a run,
// otherwise the terminal state of the last run (or idle).
func (d *Driver) State() State {
	return d.state
}

// runState carries the per-run mutable bits between driver methods.
type runState struct {
	req     *Request
	result  *Result
	working *layer.Image
	chooser OverwriteChooser

	// invalid marks formats that failed to encode; later specs sharing
	// the format fall back to the default extension up front.
	invalid map[string]bool

	// claimed tracks output paths owned by this run, planned or written,
	// so fallback and rename targets never collide with them.
	claimed map[string]bool

	logger *zap.Logger
}

// Run executes the plan. The returned result is valid on every path,
// including cancellation and failure.
func (d *Driver) Run(ctx context.Context, req *Request) (*Result, error) {
	if d.state == StateRunning {
		return nil, ErrRunInProgress
	}
	d.state = StateRunning

	result := &Result{
		RunID:         uuid.New(),
		State:         StateRunning,
		StartedAt:     d.clock.Now(),
		FormatConfigs: cloneConfigs(req.FormatConfigs),
	}
	logger := d.logger.With(
		zap.String("run", result.RunID.String()),
		zap.Int("total", req.Plan.Total()),
	)

	finish := func(s State) {
		d.state = s
		result.State = s
		result.FinishedAt = d.clock.Now()
	}

	if err := d.fs.MkdirAll(req.Plan.OutputRoot, 0o755); err != nil {
		finish(StateFailed)
		return result, fmt.Errorf("creating output root: %w", err)
	}
	for _, dir := range req.Plan.EmptyDirs {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			finish(StateFailed)
			return result, fmt.Errorf("creating group directory: %w", err)
		}
	}

	working, err := d.host.NewWorkingImage(req.Image)
	if err != nil {
		finish(StateFailed)
		return result, fmt.Errorf("creating working image: %w", err)
	}
	defer d.host.DeleteWorkingImage(working)

	run := &runState{
		req:     req,
		result:  result,
		working: working,
		chooser: req.Chooser,
		invalid: make(map[string]bool),
		claimed: make(map[string]bool),
		logger:  logger,
	}
	if run.chooser == nil {
		run.chooser = FixedChooser{Decision: OverwriteReplace}
	}
	for _, spec := range req.Plan.Specs {
		run.claimed[spec.OutputPath] = true
	}

	logger.Info("run started")
	total := req.Plan.Total()
	for i, spec := range req.Plan.Specs {
		if cause := ctx.Err(); cause != nil {
			logger.Info("run cancelled", zap.Int("handled", i))
			finish(StateCancelled)
			return result, fmt.Errorf("%w after %d of %d layers: %v", ErrBatchCancelled, i, total, cause)
		}

		exported, err := d.exportOne(run, spec)
		d.host.ClearWorkingImage(working)
		if err != nil {
			if errors.Is(err, host.ErrDialogCancelled) || errors.Is(err, ErrBatchCancelled) {
				finish(StateCancelled)
				return result, err
			}
			result.Failures = append(result.Failures, LayerFailure{
				Layer: spec.LayerName(),
				Path:  spec.OutputPath,
				Err:   err,
			})
			if req.Options.OnError == SkipOnError {
				logger.Warn("layer failed, continuing",
					zap.String("layer", spec.LayerName()), zap.Error(err))
				d.report(run, i+1, total, spec.OutputPath, true)
				continue
			}
			finish(StateFailed)
			return result, err
		}

		result.Exported = append(result.Exported, exported)
		d.report(run, i+1, total, exported.Path, exported.Skipped)
	}

	logger.Info("run completed",
		zap.Int("written", result.Written()),
		zap.Int("failed", len(result.Failures)))
	finish(StateCompleted)
	return result, nil
}

func (d *Driver) report(run *runState, index, total int, path string, skipped bool) {
	if run.req.Progress == nil {
		return
	}
	run.req.Progress(Progress{
		RunID:   run.result.RunID,
		Index:   index,
		Total:   total,
		Path:    path,
		Skipped: skipped,
	})
}

// exportOne handles a single spec: prepare the pixels, resolve overwrite,
// encode, account.
func (d *Driver) exportOne(run *runState, spec planner.Spec) (ExportedLayer, error) {
	started := d.clock.Now()
	defaultFormat := naming.CanonicalFormat(run.req.Options.DefaultExtension)

	format, outPath := spec.Format, spec.OutputPath
	if run.invalid[format] {
		format, outPath = d.fallbackTarget(run, spec)
	}

	node, err := d.prepareLayer(run, spec)
	if err != nil {
		return ExportedLayer{}, err
	}

	outPath, skipped, err := d.resolveOverwrite(run, outPath)
	if err != nil {
		return ExportedLayer{}, err
	}
	if skipped {
		run.logger.Info("target exists, skipping", zap.String("path", outPath))
		return ExportedLayer{
			Layer:    spec.LayerName(),
			Path:     outPath,
			Format:   format,
			Skipped:  true,
			Duration: d.clock.Now().Sub(started),
		}, nil
	}

	if err := d.fs.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return ExportedLayer{}, fmt.Errorf("creating directory for %s: %w", outPath, err)
	}

	if err := d.encode(run, node, outPath, format); err != nil {
		if errors.Is(err, host.ErrDialogCancelled) {
			return ExportedLayer{}, err
		}
		if format == defaultFormat {
			return ExportedLayer{}, &HostExportError{
				Layer: spec.LayerName(), Path: outPath, Format: format, Err: err,
			}
		}

		// The format cannot encode this layer. Fall back to the default
		// extension, for this spec and for every later one sharing the
		// format.
		run.invalid[format] = true
		run.logger.Warn("format failed, falling back to default extension",
			zap.String("format", format), zap.Error(err))

		format, outPath = d.fallbackTarget(run, spec)
		outPath, skipped, err = d.resolveOverwrite(run, outPath)
		if err != nil {
			return ExportedLayer{}, err
		}
		if skipped {
			run.logger.Info("fallback target exists, skipping", zap.String("path", outPath))
			return ExportedLayer{
				Layer:    spec.LayerName(),
				Path:     outPath,
				Format:   format,
				Skipped:  true,
				Duration: d.clock.Now().Sub(started),
			}, nil
		}
		if err := d.encode(run, node, outPath, format); err != nil {
			if errors.Is(err, host.ErrDialogCancelled) {
				return ExportedLayer{}, err
			}
			return ExportedLayer{}, &HostExportError{
				Layer: spec.LayerName(), Path: outPath, Format: format, Err: err,
			}
		}
	}
	run.claimed[outPath] = true

	checksum, err := d.hasher.HashFile(outPath)
	if err != nil {
		run.logger.Warn("checksum failed", zap.String("path", outPath), zap.Error(err))
		checksum = ""
	}

	run.logger.Debug("layer exported",
		zap.String("layer", spec.LayerName()),
		zap.String("path", outPath),
		zap.String("format", format))

	return ExportedLayer{
		Layer:    spec.LayerName(),
		Path:     outPath,
		Format:   format,
		Checksum: checksum,
		Duration: d.clock.Now().Sub(started),
	}, nil
}

// prepareLayer builds the exportable layer inside the working image:
// background copies beneath, the spec's node on top, merged and transformed
// per the options.
func (d *Driver) prepareLayer(run *runState, spec planner.Spec) (*layer.Node, error) {
	// Copies go in bottom-up so the document stacking survives beneath
	// the foreground.
	var bgs []*layer.Node
	for i := len(spec.Backgrounds) - 1; i >= 0; i-- {
		src := spec.Backgrounds[i]
		bg, err := d.host.CopyLayerInto(run.working, src)
		if err != nil {
			return nil, fmt.Errorf("copying background %q: %w", src.Name, err)
		}
		bg.Visible = true
		if bg.IsGroup() {
			if bg, err = d.host.MergeGroupToLayer(run.working, bg); err != nil {
				return nil, fmt.Errorf("merging background group %q: %w", src.Name, err)
			}
		}
		bgs = append(bgs, bg)
	}

	node, err := d.host.CopyLayerInto(run.working, spec.Node)
	if err != nil {
		return nil, fmt.Errorf("copying layer %q: %w", spec.LayerName(), err)
	}
	node.Visible = true
	if node.IsGroup() {
		if node, err = d.host.MergeGroupToLayer(run.working, node); err != nil {
			return nil, fmt.Errorf("merging group %q: %w", spec.LayerName(), err)
		}
	}
	if run.req.Options.IgnoreLayerModes {
		node.Mode = "normal"
	}

	return d.cropAndMerge(run, node, bgs)
}

// cropAndMerge applies the crop/composite sequence. The ordering matters:
// cropping to the background happens on the composited result, cropping to
// the layer happens before backgrounds are merged in.
func (d *Driver) cropAndMerge(run *runState, node *layer.Node, bgs []*layer.Node) (*layer.Node, error) {
	opts := run.req.Options
	img := run.working
	hasBG := len(bgs) > 0

	merge := func(parts []*layer.Node) (*layer.Node, error) {
		merged, err := d.host.MergeLayers(img, parts)
		if err != nil {
			return nil, fmt.Errorf("compositing layers: %w", err)
		}
		return merged, nil
	}
	autocrop := func(n *layer.Node) error {
		if err := d.host.CropToOpaqueBounds(img, n); err != nil {
			return fmt.Errorf("autocropping %q: %w", n.Name, err)
		}
		return nil
	}

	if !opts.UseImageSize {
		if err := d.host.ResizeImageToLayers(img); err != nil {
			return nil, fmt.Errorf("fitting canvas to layers: %w", err)
		}
		if opts.CropToBackground && hasBG {
			merged, err := merge(append(bgs, node))
			if err != nil {
				return nil, err
			}
			if opts.Autocrop {
				if err := autocrop(merged); err != nil {
					return nil, err
				}
			}
			return merged, nil
		}
		if opts.Autocrop {
			if err := autocrop(node); err != nil {
				return nil, err
			}
		}
		if hasBG {
			box := node.Bounds
			merged, err := merge(append(bgs, node))
			if err != nil {
				return nil, err
			}
			// Without crop-to-background the exported canvas is the
			// foreground layer's own box, so clip the composite back to the
			// autocropped bounds instead of keeping the merge union.
			if opts.Autocrop {
				if err := d.host.CropLayer(img, merged, box); err != nil {
					return nil, fmt.Errorf("clipping composite to %q: %w", node.Name, err)
				}
			}
			return merged, nil
		}
		return node, nil
	}

	// Canvas-size export: crop first, composite, then pin the result to
	// the image canvas.
	if opts.Autocrop {
		if opts.CropToBackground && hasBG {
			bg, err := merge(bgs)
			if err != nil {
				return nil, err
			}
			if err := autocrop(bg); err != nil {
				return nil, err
			}
			bgs = []*layer.Node{bg}
		} else {
			if err := autocrop(node); err != nil {
				return nil, err
			}
		}
	}
	if hasBG {
		var err error
		if node, err = merge(append(bgs, node)); err != nil {
			return nil, err
		}
	}
	if err := d.host.ResizeToCanvas(img, node); err != nil {
		return nil, fmt.Errorf("resizing to canvas: %w", err)
	}
	return node, nil
}

// encode asks the host to write the file, reusing the cached configuration
// for the format when one exists. A failure with a cached configuration is
// retried interactively once, since stale settings are a common cause.
func (d *Driver) encode(run *runState, node *layer.Node, path, format string) error {
	var cfg host.FormatConfig
	cached := false
	if !d.host.AlwaysInteractive(format) {
		cfg, cached = run.result.FormatConfigs[format]
	}

	got, err := d.host.Export(run.working, node, path, format, cfg)
	if err != nil && cached && !errors.Is(err, host.ErrDialogCancelled) {
		run.logger.Warn("cached settings rejected, re-prompting",
			zap.String("format", format), zap.Error(err))
		got, err = d.host.Export(run.working, node, path, format, nil)
	}
	if err != nil {
		return err
	}
	if got != nil {
		run.result.FormatConfigs[format] = got.Clone()
	}
	return nil
}

// resolveOverwrite returns the path to write, a skip flag, or an error.
// The cancel decision surfaces as ErrBatchCancelled.
func (d *Driver) resolveOverwrite(run *runState, path string) (string, bool, error) {
	exists, err := d.fs.Exists(path)
	if err != nil {
		return "", false, fmt.Errorf("checking %s: %w", path, err)
	}
	if !exists {
		return path, false, nil
	}

	decision, err := run.chooser.Choose(path)
	if err != nil {
		return "", false, fmt.Errorf("overwrite prompt for %s: %w", path, err)
	}

	switch decision {
	case OverwriteSkip:
		return path, true, nil
	case OverwriteRenameNew:
		renamed, ok := naming.Uniquify(path, d.takenFunc(run))
		if !ok {
			return "", false, &planner.NamingCollisionError{Path: path}
		}
		return renamed, false, nil
	case OverwriteRenameExisting:
		moved, ok := naming.Uniquify(path, d.takenFunc(run))
		if !ok {
			return "", false, &planner.NamingCollisionError{Path: path}
		}
		if err := d.fs.Rename(path, moved); err != nil {
			return "", false, fmt.Errorf("renaming existing file: %w", err)
		}
		return path, false, nil
	case OverwriteCancel:
		return "", false, fmt.Errorf("%w: stopped at overwrite prompt for %s", ErrBatchCancelled, path)
	default:
		return path, false, nil
	}
}

// fallbackTarget rewrites a spec's target for the default extension after
// its own format proved unusable.
func (d *Driver) fallbackTarget(run *runState, spec planner.Spec) (format, path string) {
	ext := run.req.Options.DefaultExtension
	stem := strings.TrimSuffix(spec.FileName, "."+spec.Extension)
	candidate := filepath.Join(spec.Dir, naming.FileName(stem, ext))
	// Only dodge paths owned by this run; files already on disk go through
	// overwrite resolution like any other target.
	if resolved, ok := naming.Uniquify(candidate, func(p string) bool { return run.claimed[p] }); ok {
		candidate = resolved
	}
	run.claimed[candidate] = true
	return naming.CanonicalFormat(ext), candidate
}

// takenFunc reports whether a candidate path is owned by the run or already
// present on disk.
func (d *Driver) takenFunc(run *runState) func(string) bool {
	return func(p string) bool {
		if run.claimed[p] {
			return true
		}
		exists, err := d.fs.Exists(p)
		return err != nil || exists
	}
}

func cloneConfigs(in map[string]host.FormatConfig) map[string]host.FormatConfig {
	out := make(map[string]host.FormatConfig, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
