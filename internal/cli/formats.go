package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgreer/layerexport/internal/host"
	"github.com/mgreer/layerexport/internal/host/rasterhost"
)

// supportedFormats are the formats the bundled OpenRaster host can encode.
var supportedFormats = []string{"png", "jpeg", "gif"}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "Manage the saved per-format export settings",
	Long: `Manage the per-format export settings remembered from previous runs
('export --use-last-settings' reuses them instead of prompting).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormatsList(cmd)
	},
}

var formatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show supported formats and their saved settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormatsList(cmd)
	},
}

var formatsClearCmd = &cobra.Command{
	Use:   "clear [format]",
	Short: "Forget saved settings, for one format or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}
		configs, err := env.store.LoadFormatConfigs()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			format := args[0]
			if _, ok := configs[format]; !ok {
				PrintWarning(fmt.Sprintf("No saved settings for %s", format))
				return nil
			}
			delete(configs, format)
			if err := env.store.SaveFormatConfigs(configs); err != nil {
				return err
			}
			PrintSuccess(fmt.Sprintf("Cleared saved settings for %s", format))
			return nil
		}

		if err := env.store.SaveFormatConfigs(map[string]host.FormatConfig{}); err != nil {
			return err
		}
		PrintSuccess("Cleared all saved format settings")
		return nil
	},
}

func runFormatsList(cmd *cobra.Command) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}
	configs, err := env.store.LoadFormatConfigs()
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(map[string]interface{}{
			"supported": supportedFormats,
			"saved":     configs,
		})
	}

	PrintSection("Export Formats")
	PrintLabelValue("Supported", strings.Join(supportedFormats, ", "))

	h := rasterhost.New(nil)
	var interactive []string
	for _, f := range supportedFormats {
		if h.AlwaysInteractive(f) {
			interactive = append(interactive, f)
		}
	}
	if len(interactive) > 0 {
		PrintLabelValue("Always interactive", strings.Join(interactive, ", "))
	}
	fmt.Println()

	if len(configs) == 0 {
		PrintEmptyState("No saved format settings yet")
		return nil
	}

	formats := make([]string, 0, len(configs))
	for f := range configs {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	var rows [][]string
	for _, f := range formats {
		keys := make([]string, 0, len(configs[f]))
		for k := range configs[f] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rows = append(rows, []string{f, k, configs[f][k]})
		}
	}
	PrintSubsection("Saved settings:")
	PrintTable([]string{"FORMAT", "SETTING", "VALUE"}, rows)
	return nil
}

func init() {
	formatsCmd.AddCommand(formatsListCmd)
	formatsCmd.AddCommand(formatsClearCmd)
}
