package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mgreer/layerexport/internal/export"
	"github.com/mgreer/layerexport/internal/host"
	"github.com/mgreer/layerexport/internal/host/rasterhost"
	"github.com/mgreer/layerexport/internal/planner"
	"github.com/mgreer/layerexport/internal/settings"
)

var (
	exportUseLastSettings bool
	exportDryRun          bool
)

var exportCmd = &cobra.Command{
	Use:   "export <image.ora>",
	Short: "Export every layer of an image as a separate file",
	Long: `Export each layer of an OpenRaster image to its own file under the
output directory.

Persisted settings drive the export; any of them can be overridden for a
single run with the matching flag. Interrupting with Ctrl-C stops between
layers, keeping everything already written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}

		oraHost := rasterhost.New(rasterhost.TerminalPrompter{})
		img, err := oraHost.LoadORA(args[0])
		if err != nil {
			return err
		}

		outDir, err := env.outputDir()
		if err != nil {
			return err
		}

		plan, err := planner.Build(img, planner.OptionsFromSettings(outDir, env.settings))
		if err != nil {
			return err
		}

		if exportDryRun {
			printPlan(plan)
			return nil
		}
		if plan.Empty() && len(plan.EmptyDirs) == 0 {
			PrintWarning("Nothing to export with the current settings")
			return nil
		}

		chooser, err := chooserFor(env.settings.Overwrite)
		if err != nil {
			return err
		}

		var seeds map[string]host.FormatConfig
		if exportUseLastSettings {
			seeds, err = env.store.LoadFormatConfigs()
			if err != nil {
				return err
			}
		}

		req := &export.Request{
			Image:         img,
			Plan:          plan,
			Options:       export.OptionsFromSettings(env.settings),
			FormatConfigs: seeds,
			Chooser:       chooser,
		}

		var bar *pterm.ProgressbarPrinter
		if !jsonOutput && !verbose && plan.Total() > 0 {
			bar, _ = pterm.DefaultProgressbar.
				WithTotal(plan.Total()).
				WithTitle("Exporting").
				Start()
			req.Progress = func(p export.Progress) {
				bar.Increment()
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		driver := env.newDriver(oraHost)
		result, runErr := driver.Run(ctx, req)
		if bar != nil {
			_, _ = bar.Stop()
		}

		if result != nil && len(result.FormatConfigs) > 0 {
			if err := saveFormatConfigs(env, result.FormatConfigs); err != nil {
				PrintWarning(fmt.Sprintf("Could not save format settings: %v", err))
			}
		}
		if jsonOutput && result != nil {
			if err := outputJSON(result); err != nil {
				return err
			}
		}

		return reportRun(result, runErr, plan.OutputRoot)
	},
}

// reportRun prints the run outcome. The result may be nil when the run was
// rejected before starting.
func reportRun(result *export.Result, runErr error, outputRoot string) error {
	if runErr != nil {
		if result == nil {
			return runErr
		}
		if errors.Is(runErr, export.ErrBatchCancelled) || errors.Is(runErr, host.ErrDialogCancelled) {
			PrintWarning(fmt.Sprintf("Export cancelled; %s kept",
				PrintCount(result.Written(), "file", "files")))
			return runErr
		}
		for _, f := range result.Failures {
			PrintError(fmt.Sprintf("%s: %v", f.Layer, f.Err))
		}
		return runErr
	}

	PrintSuccess(fmt.Sprintf("Exported %s to %s",
		PrintCount(result.Written(), "layer", "layers"), outputRoot))
	if skipped := len(result.Exported) - result.Written(); skipped > 0 {
		PrintInfo(fmt.Sprintf("  %s left untouched", PrintCount(skipped, "existing file", "existing files")))
	}
	if len(result.Failures) > 0 {
		PrintWarning(PrintCount(len(result.Failures), "layer failed", "layers failed"))
		failures := make([]string, 0, len(result.Failures))
		for _, f := range result.Failures {
			failures = append(failures, fmt.Sprintf("%s: %v", f.Layer, f.Err))
		}
		PrintList(failures, 1)
	}
	PrintLabelValue("Run ID", result.RunID.String())
	return nil
}

// chooserFor maps the persisted overwrite policy to a chooser. The "ask"
// policy prompts per conflict.
func chooserFor(policy string) (export.OverwriteChooser, error) {
	if policy == settings.OverwriteAsk {
		return interactiveChooser{}, nil
	}
	decision, err := export.ParseOverwriteDecision(policy)
	if err != nil {
		return nil, err
	}
	return export.FixedChooser{Decision: decision}, nil
}

// interactiveChooser asks on the terminal what to do with an existing file.
type interactiveChooser struct{}

func (interactiveChooser) Choose(path string) (export.OverwriteDecision, error) {
	choice, err := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"replace", "skip", "rename-new", "rename-existing", "cancel"}).
		WithDefaultOption("replace").
		Show(fmt.Sprintf("%s already exists", path))
	if err != nil {
		return 0, fmt.Errorf("overwrite prompt: %w", err)
	}
	return export.ParseOverwriteDecision(choice)
}

// saveFormatConfigs merges the run's format configurations into the
// persisted ones.
func saveFormatConfigs(env *environment, gathered map[string]host.FormatConfig) error {
	stored, err := env.store.LoadFormatConfigs()
	if err != nil {
		return err
	}
	for format, cfg := range gathered {
		stored[format] = cfg
	}
	return env.store.SaveFormatConfigs(stored)
}

func init() {
	registerSettingFlags(exportCmd)
	exportCmd.Flags().BoolVar(&exportUseLastSettings, "use-last-settings", false,
		"Reuse the format settings saved by the previous run instead of prompting")
	exportCmd.Flags().BoolVar(&exportDryRun, "dry-run", false,
		"Show what would be exported without writing anything")
}
