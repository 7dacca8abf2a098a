package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgreer/layerexport/internal/host/rasterhost"
	"github.com/mgreer/layerexport/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <image.ora>",
	Short: "Show the export plan without writing anything",
	Long: `Compute and print the export plan for an image: which layers export,
to which paths, and in which formats.

The plan honors the persisted settings and any override flags, exactly as
'export' would.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}

		oraHost := rasterhost.New(nil)
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

		if jsonOutput {
			return outputJSON(plan)
		}
		printPlan(plan)
		return nil
	},
}

// printPlan renders a plan as a table plus the planned group directories.
func printPlan(plan *planner.Plan) {
	PrintSection("Export Plan")

	if plan.Empty() {
		PrintEmptyState("No layers to export with the current settings")
	} else {
		rows := make([][]string, 0, plan.Total())
		for _, spec := range plan.Specs {
			notes := ""
			if spec.MergeGroup {
				notes = "merged group"
			}
			if n := len(spec.Backgrounds); n > 0 {
				if notes != "" {
					notes += ", "
				}
				notes += PrintCount(n, "background", "backgrounds")
			}
			rows = append(rows, []string{spec.LayerName(), spec.OutputPath, spec.Format, notes})
		}
		PrintTable([]string{"LAYER", "OUTPUT", "FORMAT", "NOTES"}, rows)
	}

	if len(plan.EmptyDirs) > 0 {
		fmt.Println()
		PrintSubsection("Group directories:")
		PrintList(plan.EmptyDirs, 1)
	}

	fmt.Println()
	PrintInfo(fmt.Sprintf("%s planned under %s",
		PrintCount(plan.Total(), "layer", "layers"), plan.OutputRoot))
}

func init() {
	registerSettingFlags(planCmd)
}
