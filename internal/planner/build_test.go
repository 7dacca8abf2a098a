package planner

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mgreer/layerexport/internal/background"
	"github.com/mgreer/layerexport/internal/layer"
	"github.com/mgreer/layerexport/internal/naming"
	"github.com/mgreer/layerexport/internal/settings"
)

func baseOptions() Options {
	return Options{
		OutputDir:        "/out",
		ExtensionMode:    naming.ExtDefault,
		StripMode:        naming.StripIfIdentical,
		BracketMode:      background.ModeNormal,
		DefaultExtension: "jpg",
	}
}

func outputPaths(p *Plan) []string {
	out := make([]string, 0, len(p.Specs))
	for _, s := range p.Specs {
		out = append(out, s.OutputPath)
	}
	return out
}

func TestBuild_EmptyImage(t *testing.T) {
	plan, err := Build(&layer.Image{Name: "empty"}, baseOptions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !plan.Empty() || plan.Total() != 0 {
		t.Errorf("expected empty plan, got %d specs", plan.Total())
	}
}

func TestBuild_InvalidDefaultExtension(t *testing.T) {
	opts := baseOptions()
	opts.DefaultExtension = "no good"

	_, err := Build(&layer.Image{Layers: []*layer.Node{layer.NewLeaf("a")}}, opts)
	if !errors.Is(err, settings.ErrInvalidExtension) {
		t.Errorf("expected ErrInvalidExtension, got %v", err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewLeaf("cat.png"),
		layer.NewGroup("g", layer.NewLeaf("dog")),
	}}
	opts := baseOptions()
	opts.ExtensionMode = naming.ExtUseAsExtension

	a, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(outputPaths(a), outputPaths(b)) {
		t.Errorf("plans differ across identical builds")
	}
}

func TestBuild_FlattenVsDirectories(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewGroup("Group1", layer.NewLeaf("LeafA")),
		layer.NewLeaf("LeafB"),
	}}

	t.Run("flatten mode writes everything to the root", func(t *testing.T) {
		plan, err := Build(img, baseOptions())
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			filepath.Join("/out", "LeafA.jpg"),
			filepath.Join("/out", "LeafB.jpg"),
		}
		if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})

	t.Run("directories mode nests by group", func(t *testing.T) {
		opts := baseOptions()
		opts.GroupsAsDirectories = true
		plan, err := Build(img, opts)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			filepath.Join("/out", "Group1", "LeafA.jpg"),
			filepath.Join("/out", "LeafB.jpg"),
		}
		if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
			t.Errorf("paths = %v, want %v", got, want)
		}
	})
}

func TestBuild_EmptyDirsForFilteredGroups(t *testing.T) {
	// Group1's only leaf is invisible: with the visibility filter on,
	// Group1 still yields a directory under create-empty-dirs.
	hidden := layer.NewLeaf("LeafA")
	hidden.Visible = false
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewGroup("Group1", hidden),
		layer.NewLeaf("LeafB"),
	}}

	opts := baseOptions()
	opts.GroupsAsDirectories = true
	opts.IgnoreInvisible = true
	opts.CreateEmptyDirs = true

	plan, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}

	if got := outputPaths(plan); !reflect.DeepEqual(got, []string{filepath.Join("/out", "LeafB.jpg")}) {
		t.Fatalf("paths = %v", got)
	}
	want := []string{filepath.Join("/out", "Group1")}
	if !reflect.DeepEqual(plan.EmptyDirs, want) {
		t.Errorf("EmptyDirs = %v, want %v", plan.EmptyDirs, want)
	}
}

func TestBuild_NoEmptyDirsWithoutOption(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{layer.NewGroup("vacant")}}
	plan, err := Build(img, baseOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.EmptyDirs) != 0 {
		t.Errorf("EmptyDirs = %v, want none", plan.EmptyDirs)
	}
}

func TestBuild_UseAsExtensionPartitionsFormats(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewLeaf("a.png"),
		layer.NewLeaf("b.gif"),
		layer.NewLeaf("c"),
		layer.NewLeaf("d.png"),
	}}
	opts := baseOptions()
	opts.ExtensionMode = naming.ExtUseAsExtension

	plan, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}

	var formats []string
	for _, s := range plan.Specs {
		formats = append(formats, s.Format)
	}
	// png runs are contiguous; the plain layer falls back to the default.
	want := []string{"png", "png", "gif", "jpeg"}
	if !reflect.DeepEqual(formats, want) {
		t.Errorf("formats = %v, want %v", formats, want)
	}
}

func TestBuild_MatchingOnlyExcludes(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewLeaf("keep.jpg"),
		layer.NewLeaf("drop.png"),
		layer.NewLeaf("drop-too"),
	}}
	opts := baseOptions()
	opts.ExtensionMode = naming.ExtMatchingOnly

	plan, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join("/out", "keep.jpg")}
	if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestBuild_BackgroundScenario(t *testing.T) {
	// Layers [bg], cat.png, dog with bracket-mode=background, default jpg,
	// use-as-extension: 2 exports, cat.png as png composited over bg,
	// dog.jpg; [bg] absent from the output set.
	bg := layer.NewLeaf("[bg]")
	img := &layer.Image{Layers: []*layer.Node{
		bg,
		layer.NewLeaf("cat.png"),
		layer.NewLeaf("dog"),
	}}
	opts := baseOptions()
	opts.BracketMode = background.ModeBackground
	opts.ExtensionMode = naming.ExtUseAsExtension

	plan, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join("/out", "cat.png"),
		filepath.Join("/out", "dog.jpg"),
	}
	if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	for _, s := range plan.Specs {
		if len(s.Backgrounds) != 1 || s.Backgrounds[0] != bg {
			t.Errorf("spec %s missing background contributor", s.FileName)
		}
	}
}

func TestBuild_BracketNormalIsNoOp(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewLeaf("[bg]"),
		layer.NewLeaf("cat"),
	}}
	plan, err := Build(img, baseOptions())
	if err != nil {
		t.Fatal(err)
	}

	// Both layers export; the bracketed one just loses its brackets.
	want := []string{
		filepath.Join("/out", "bg.jpg"),
		filepath.Join("/out", "cat.jpg"),
	}
	if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
	for _, s := range plan.Specs {
		if len(s.Backgrounds) != 0 {
			t.Errorf("normal mode must not composite backgrounds")
		}
	}
}

func TestBuild_MergeGroups(t *testing.T) {
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewGroup("characters",
			layer.NewLeaf("cat"),
			layer.NewGroup("dogs", layer.NewLeaf("dog")),
		),
		layer.NewLeaf("solo"),
	}}
	opts := baseOptions()
	opts.MergeGroups = true

	plan, err := Build(img, opts)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join("/out", "characters.jpg"),
		filepath.Join("/out", "solo.jpg"),
	}
	if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
		t.Fatalf("paths = %v, want %v", got, want)
	}
	if !plan.Specs[0].MergeGroup {
		t.Error("group spec must be marked MergeGroup")
	}
	if plan.Specs[1].MergeGroup {
		t.Error("leaf spec must not be marked MergeGroup")
	}
}

func TestBuild_CollisionDisambiguation(t *testing.T) {
	// Two distinct layers sanitize to the same filename.
	img := &layer.Image{Layers: []*layer.Node{
		layer.NewLeaf("a/b"),
		layer.NewLeaf("a_b"),
	}}
	plan, err := Build(img, baseOptions())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join("/out", "a_b.jpg"),
		filepath.Join("/out", "a_b (1).jpg"),
	}
	if got := outputPaths(plan); !reflect.DeepEqual(got, want) {
		t.Errorf("paths = %v, want %v", got, want)
	}
}

func TestOptionsFromSettings(t *testing.T) {
	s := settings.Default()
	s.GroupsAsDirectories = true
	s.MergeGroups = true
	s.BracketMode = "ignore"
	s.ExtensionMode = "use-as-extension"
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}

	opts := OptionsFromSettings("/tmp/out", s)
	if !opts.GroupsAsDirectories || !opts.MergeGroups {
		t.Error("boolean options not carried over")
	}
	if opts.BracketMode != background.ModeIgnore {
		t.Errorf("BracketMode = %v", opts.BracketMode)
	}
	if opts.ExtensionMode != naming.ExtUseAsExtension {
		t.Errorf("ExtensionMode = %v", opts.ExtensionMode)
	}
	if opts.OutputDir != "/tmp/out" {
		t.Errorf("OutputDir = %q", opts.OutputDir)
	}
}
