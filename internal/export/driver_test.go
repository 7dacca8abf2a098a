package export

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mgreer/layerexport/internal/background"
	"github.com/mgreer/layerexport/internal/clock"
	"github.com/mgreer/layerexport/internal/fsops"
	"github.com/mgreer/layerexport/internal/hash"
	"github.com/mgreer/layerexport/internal/host"
	"github.com/mgreer/layerexport/internal/layer"
	"github.com/mgreer/layerexport/internal/naming"
	"github.com/mgreer/layerexport/internal/planner"
)

type exportCall struct {
	path        string
	format      string
	mode        string
	interactive bool
}

// fakeHost writes real files so overwrite handling and checksumming can run
// against a temp directory, and scripts failure modes per format.
type fakeHost struct {
	failFormats       map[string]bool
	dialogCancel      map[string]bool
	rejectCached      map[string]bool
	alwaysInteractive map[string]bool

	calls   []exportCall
	working int
	cleared int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		failFormats:       make(map[string]bool),
		dialogCancel:      make(map[string]bool),
		rejectCached:      make(map[string]bool),
		alwaysInteractive: make(map[string]bool),
	}
}

func (h *fakeHost) NewWorkingImage(src *layer.Image) (*layer.Image, error) {
	h.working++
	return &layer.Image{Name: src.Name, Width: src.Width, Height: src.Height}, nil
}

func (h *fakeHost) DeleteWorkingImage(*layer.Image) {
	h.working--
}

func (h *fakeHost) ClearWorkingImage(img *layer.Image) {
	img.Layers = nil
	h.cleared++
}

func (h *fakeHost) CopyLayerInto(dst *layer.Image, src *layer.Node) (*layer.Node, error) {
	cp := &layer.Node{
		Name:     src.Name,
		Kind:     src.Kind,
		Visible:  src.Visible,
		Opacity:  src.Opacity,
		Mode:     src.Mode,
		Children: src.Children,
	}
	dst.Layers = append([]*layer.Node{cp}, dst.Layers...)
	return cp, nil
}

func (h *fakeHost) MergeGroupToLayer(_ *layer.Image, group *layer.Node) (*layer.Node, error) {
	return layer.NewLeaf(group.Name), nil
}

func (h *fakeHost) MergeLayers(_ *layer.Image, nodes []*layer.Node) (*layer.Node, error) {
	return layer.NewLeaf("composite"), nil
}

func (h *fakeHost) CropToOpaqueBounds(*layer.Image, *layer.Node) error         { return nil }
func (h *fakeHost) CropLayer(*layer.Image, *layer.Node, image.Rectangle) error { return nil }
func (h *fakeHost) ResizeToCanvas(*layer.Image, *layer.Node) error             { return nil }
func (h *fakeHost) ResizeImageToLayers(*layer.Image) error                     { return nil }
func (h *fakeHost) SupportsFormat(string) bool                                 { return true }

func (h *fakeHost) AlwaysInteractive(format string) bool {
	return h.alwaysInteractive[format]
}

func (h *fakeHost) Export(_ *layer.Image, node *layer.Node, path, format string, cfg host.FormatConfig) (host.FormatConfig, error) {
	interactive := cfg == nil
	h.calls = append(h.calls, exportCall{path: path, format: format, mode: node.Mode, interactive: interactive})

	if h.failFormats[format] {
		return nil, errors.New("encoder rejected image")
	}
	if interactive && h.dialogCancel[format] {
		return nil, host.ErrDialogCancelled
	}
	if !interactive && h.rejectCached[format] {
		return nil, errors.New("stale format settings")
	}

	if err := os.WriteFile(path, []byte(format+":"+node.Name), 0o644); err != nil {
		return nil, err
	}
	if interactive {
		return host.FormatConfig{"quality": "90"}, nil
	}
	return cfg, nil
}

func (h *fakeHost) interactiveCalls(format string) int {
	n := 0
	for _, c := range h.calls {
		if c.format == format && c.interactive {
			n++
		}
	}
	return n
}

func newTestDriver(h host.Host) *Driver {
	return New(h, fsops.NewRealFS(), hash.NewFakeHasher(),
		clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)), nil)
}

func testImage(names ...string) *layer.Image {
	img := &layer.Image{Name: "art", Width: 64, Height: 64}
	for _, n := range names {
		img.Layers = append(img.Layers, layer.NewLeaf(n))
	}
	return img
}

func buildPlan(t *testing.T, img *layer.Image, dir string, extMode naming.ExtensionMode) *planner.Plan {
	t.Helper()
	plan, err := planner.Build(img, planner.Options{
		OutputDir:        dir,
		ExtensionMode:    extMode,
		StripMode:        naming.StripIfIdentical,
		BracketMode:      background.ModeNormal,
		DefaultExtension: "jpg",
	})
	if err != nil {
		t.Fatalf("planning failed: %v", err)
	}
	return plan
}

func baseRequest(plan *planner.Plan, img *layer.Image) *Request {
	return &Request{
		Image:   img,
		Plan:    plan,
		Options: Options{DefaultExtension: "jpg"},
	}
}

func TestRun_EmptyPlanCompletes(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	img := testImage()
	plan := buildPlan(t, img, t.TempDir(), naming.ExtDefault)

	result, err := d.Run(context.Background(), baseRequest(plan, img))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateCompleted || d.State() != StateCompleted {
		t.Errorf("state = %v / %v, want completed", result.State, d.State())
	}
	if len(result.Exported) != 0 {
		t.Errorf("exported %d layers from an empty plan", len(result.Exported))
	}
	if h.working != 0 {
		t.Error("working image not released")
	}
}

func TestRun_ExportsEveryPlannedLayer(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("cat", "dog")
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	var updates []Progress
	req := baseRequest(plan, img)
	req.Progress = func(p Progress) { updates = append(updates, p) }

	result, err := d.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %v", result.State)
	}
	if result.Written() != 2 {
		t.Errorf("Written = %d, want 2", result.Written())
	}

	for _, name := range []string{"cat.jpg", "dog.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
	for i, e := range result.Exported {
		if e.Checksum != "fakehash" {
			t.Errorf("exported[%d] checksum = %q", i, e.Checksum)
		}
	}

	if len(updates) != 2 {
		t.Fatalf("progress updates = %d, want 2", len(updates))
	}
	for i, u := range updates {
		if u.Index != i+1 || u.Total != 2 || u.Skipped {
			t.Errorf("update %d = %+v", i, u)
		}
		if u.RunID != result.RunID {
			t.Errorf("update %d has foreign run id", i)
		}
	}

	if h.cleared != 2 {
		t.Errorf("working image cleared %d times, want once per layer", h.cleared)
	}
	if h.working != 0 {
		t.Error("working image not released")
	}
}

func TestRun_FormatDialogOncePerFormat(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("a.png", "b.png", "c.gif")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	result, err := d.Run(context.Background(), baseRequest(plan, img))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.interactiveCalls("png"); got != 1 {
		t.Errorf("png prompted %d times, want 1", got)
	}
	if got := h.interactiveCalls("gif"); got != 1 {
		t.Errorf("gif prompted %d times, want 1", got)
	}
	if len(result.FormatConfigs) != 2 {
		t.Errorf("gathered %d format configs, want 2", len(result.FormatConfigs))
	}
}

func TestRun_SeededConfigSkipsDialog(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("a.png", "b.png")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	req := baseRequest(plan, img)
	req.FormatConfigs = map[string]host.FormatConfig{
		"png": {"compression": "9"},
	}
	if _, err := d.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.interactiveCalls("png"); got != 0 {
		t.Errorf("png prompted %d times despite seeded config", got)
	}
}

func TestRun_AlwaysInteractiveFormatRePrompts(t *testing.T) {
	h := newFakeHost()
	h.alwaysInteractive["png"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("a.png", "b.png")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	if _, err := d.Run(context.Background(), baseRequest(plan, img)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.interactiveCalls("png"); got != 2 {
		t.Errorf("png prompted %d times, want one per layer", got)
	}
}

func TestRun_DialogCancelStopsBatch(t *testing.T) {
	h := newFakeHost()
	h.dialogCancel["gif"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("a.png", "b.gif", "c.png")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	result, err := d.Run(context.Background(), baseRequest(plan, img))
	if !errors.Is(err, host.ErrDialogCancelled) {
		t.Fatalf("err = %v, want dialog cancellation", err)
	}
	if result.State != StateCancelled {
		t.Errorf("state = %v, want cancelled", result.State)
	}
	// The png layers run first (same-format partitioning) and stay on disk.
	if len(result.Exported) != 2 {
		t.Errorf("exported %d layers before the stop, want 2", len(result.Exported))
	}
	if h.working != 0 {
		t.Error("working image not released on cancellation")
	}
}

func TestRun_ContextCancellationBetweenLayers(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("one", "two", "three")
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	ctx, cancel := context.WithCancel(context.Background())
	req := baseRequest(plan, img)
	req.Progress = func(p Progress) {
		if p.Index == 1 {
			cancel()
		}
	}

	result, err := d.Run(ctx, req)
	if !errors.Is(err, ErrBatchCancelled) {
		t.Fatalf("err = %v, want batch cancellation", err)
	}
	if result.State != StateCancelled || d.State() != StateCancelled {
		t.Errorf("state = %v / %v, want cancelled", result.State, d.State())
	}
	if len(result.Exported) != 1 {
		t.Fatalf("exported %d layers, want 1", len(result.Exported))
	}
	if _, err := os.Stat(filepath.Join(dir, "one.jpg")); err != nil {
		t.Errorf("finished file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "two.jpg")); !os.IsNotExist(err) {
		t.Error("cancelled layer was written anyway")
	}
	if h.working != 0 {
		t.Error("working image not released on cancellation")
	}
}

func TestRun_InvalidFormatFallsBackToDefault(t *testing.T) {
	h := newFakeHost()
	h.failFormats["webp"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("d.webp", "e.webp")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	result, err := d.Run(context.Background(), baseRequest(plan, img))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, name := range []string{"d.jpg", "e.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing fallback output %s: %v", name, err)
		}
	}
	for i, e := range result.Exported {
		if e.Format != "jpeg" {
			t.Errorf("exported[%d] format = %q, want jpeg", i, e.Format)
		}
	}

	// The broken format is tried once; the second layer falls back up
	// front instead of failing again.
	webpTries := 0
	for _, c := range h.calls {
		if c.format == "webp" {
			webpTries++
		}
	}
	if webpTries != 1 {
		t.Errorf("webp tried %d times, want 1", webpTries)
	}
}

func TestRun_AbortOnErrorStopsAtFirstFailure(t *testing.T) {
	h := newFakeHost()
	h.failFormats["jpeg"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("one", "two")
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	result, err := d.Run(context.Background(), baseRequest(plan, img))
	var hostErr *HostExportError
	if !errors.As(err, &hostErr) {
		t.Fatalf("err = %v, want a host export error", err)
	}
	if result.State != StateFailed {
		t.Errorf("state = %v, want failed", result.State)
	}
	if len(result.Failures) != 1 {
		t.Errorf("failures = %d, want 1", len(result.Failures))
	}
	if len(h.calls) != 1 {
		t.Errorf("host called %d times after abort, want 1", len(h.calls))
	}
	if h.working != 0 {
		t.Error("working image not released on failure")
	}
}

func TestRun_SkipOnErrorContinues(t *testing.T) {
	h := newFakeHost()
	h.failFormats["jpeg"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("one", "two")
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	var updates []Progress
	req := baseRequest(plan, img)
	req.Options.OnError = SkipOnError
	req.Progress = func(p Progress) { updates = append(updates, p) }

	result, err := d.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed despite skip policy: %v", err)
	}
	if result.State != StateCompleted {
		t.Errorf("state = %v, want completed", result.State)
	}
	if len(result.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(result.Failures))
	}
	if len(updates) != 2 || !updates[0].Skipped || !updates[1].Skipped {
		t.Errorf("updates = %+v, want two skipped updates", updates)
	}
}

func TestRun_OverwritePolicies(t *testing.T) {
	runOne := func(t *testing.T, chooser OverwriteChooser, existing string) (*Result, error, string) {
		t.Helper()
		h := newFakeHost()
		d := newTestDriver(h)
		dir := t.TempDir()
		img := testImage("cat")
		plan := buildPlan(t, img, dir, naming.ExtDefault)

		target := filepath.Join(dir, "cat.jpg")
		if err := os.WriteFile(target, []byte(existing), 0o644); err != nil {
			t.Fatal(err)
		}

		req := baseRequest(plan, img)
		req.Chooser = chooser
		result, err := d.Run(context.Background(), req)
		return result, err, dir
	}

	readFile := func(t *testing.T, path string) string {
		t.Helper()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		return string(data)
	}

	t.Run("replace overwrites the file", func(t *testing.T) {
		result, err, dir := runOne(t, FixedChooser{OverwriteReplace}, "old")
		if err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, filepath.Join(dir, "cat.jpg")); got != "jpeg:cat" {
			t.Errorf("content = %q", got)
		}
		if result.Exported[0].Skipped {
			t.Error("replace must not report skipped")
		}
	})

	t.Run("skip keeps the file", func(t *testing.T) {
		result, err, dir := runOne(t, FixedChooser{OverwriteSkip}, "old")
		if err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, filepath.Join(dir, "cat.jpg")); got != "old" {
			t.Errorf("existing file was touched: %q", got)
		}
		e := result.Exported[0]
		if !e.Skipped || e.Checksum != "" {
			t.Errorf("exported = %+v, want skipped with no checksum", e)
		}
	})

	t.Run("rename-new writes beside the file", func(t *testing.T) {
		_, err, dir := runOne(t, FixedChooser{OverwriteRenameNew}, "old")
		if err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, filepath.Join(dir, "cat.jpg")); got != "old" {
			t.Errorf("existing file was touched: %q", got)
		}
		if got := readFile(t, filepath.Join(dir, "cat (1).jpg")); got != "jpeg:cat" {
			t.Errorf("renamed export = %q", got)
		}
	})

	t.Run("rename-existing moves the file aside", func(t *testing.T) {
		_, err, dir := runOne(t, FixedChooser{OverwriteRenameExisting}, "old")
		if err != nil {
			t.Fatal(err)
		}
		if got := readFile(t, filepath.Join(dir, "cat.jpg")); got != "jpeg:cat" {
			t.Errorf("planned path = %q, want the new export", got)
		}
		if got := readFile(t, filepath.Join(dir, "cat (1).jpg")); got != "old" {
			t.Errorf("moved file = %q, want the old content", got)
		}
	})

	t.Run("cancel stops the batch", func(t *testing.T) {
		result, err, _ := runOne(t, FixedChooser{OverwriteCancel}, "old")
		if !errors.Is(err, ErrBatchCancelled) {
			t.Fatalf("err = %v, want batch cancellation", err)
		}
		if result.State != StateCancelled {
			t.Errorf("state = %v, want cancelled", result.State)
		}
	})
}

func TestRun_StaleCachedConfigRetriesInteractively(t *testing.T) {
	h := newFakeHost()
	h.rejectCached["png"] = true
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("a.png")
	plan := buildPlan(t, img, dir, naming.ExtUseAsExtension)

	req := baseRequest(plan, img)
	req.FormatConfigs = map[string]host.FormatConfig{
		"png": {"compression": "from-last-run"},
	}
	result, err := d.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %v", result.State)
	}
	if len(h.calls) != 2 || h.calls[0].interactive || !h.calls[1].interactive {
		t.Errorf("calls = %+v, want cached attempt then interactive retry", h.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.png")); err != nil {
		t.Errorf("output missing after retry: %v", err)
	}
}

func TestRun_DriverReusableAfterRun(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)

	for i := 0; i < 2; i++ {
		dir := t.TempDir()
		img := testImage("solo")
		plan := buildPlan(t, img, dir, naming.ExtDefault)
		if _, err := d.Run(context.Background(), baseRequest(plan, img)); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if d.State() != StateCompleted {
		t.Errorf("state = %v", d.State())
	}
}

func TestRun_IgnoreLayerModesForcesNormal(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("glow")
	img.Layers[0].Mode = "screen"
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	req := baseRequest(plan, img)
	req.Options.IgnoreLayerModes = true
	if _, err := d.Run(context.Background(), req); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h.calls) != 1 || h.calls[0].mode != "normal" {
		t.Errorf("exported mode = %+v, want normal", h.calls)
	}

	// Without the option the layer's own mode reaches the host.
	h2 := newFakeHost()
	d2 := newTestDriver(h2)
	img2 := testImage("glow")
	img2.Layers[0].Mode = "screen"
	plan2 := buildPlan(t, img2, t.TempDir(), naming.ExtDefault)
	if _, err := d2.Run(context.Background(), baseRequest(plan2, img2)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(h2.calls) != 1 || h2.calls[0].mode != "screen" {
		t.Errorf("exported mode = %+v, want the layer's own", h2.calls)
	}
}

func TestRun_NestedRunRejected(t *testing.T) {
	h := newFakeHost()
	d := newTestDriver(h)
	dir := t.TempDir()
	img := testImage("one")
	plan := buildPlan(t, img, dir, naming.ExtDefault)

	var nested *Result
	var nestedErr error
	req := baseRequest(plan, img)
	req.Progress = func(Progress) {
		nested, nestedErr = d.Run(context.Background(), baseRequest(plan, img))
	}

	if _, err := d.Run(context.Background(), req); err != nil {
		t.Fatalf("outer run failed: %v", err)
	}
	if !errors.Is(nestedErr, ErrRunInProgress) {
		t.Errorf("nested err = %v, want run-in-progress", nestedErr)
	}
	if nested != nil {
		t.Error("a rejected run must not produce a result")
	}
}

func TestParseErrorPolicy(t *testing.T) {
	if p, err := ParseErrorPolicy("skip"); err != nil || p != SkipOnError {
		t.Errorf("skip parsed to (%v, %v)", p, err)
	}
	if p, err := ParseErrorPolicy("abort"); err != nil || p != AbortOnError {
		t.Errorf("abort parsed to (%v, %v)", p, err)
	}
	if _, err := ParseErrorPolicy("explode"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
}

func TestParseOverwriteDecision(t *testing.T) {
	for in, want := range map[string]OverwriteDecision{
		"replace":         OverwriteReplace,
		"skip":            OverwriteSkip,
		"rename-new":      OverwriteRenameNew,
		"rename-existing": OverwriteRenameExisting,
		"cancel":          OverwriteCancel,
	} {
		got, err := ParseOverwriteDecision(in)
		if err != nil || got != want {
			t.Errorf("ParseOverwriteDecision(%q) = (%v, %v)", in, got, err)
		}
	}
	if _, err := ParseOverwriteDecision("ask"); err == nil {
		t.Error("ask has no fixed decision and must not parse")
	}
}
