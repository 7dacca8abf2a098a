package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mgreer/layerexport/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change the persisted export settings",
	Long: `Inspect and change the export settings persisted under the layerexport
config root (default: ~/.layerexport, override with LAYEREXPORT_ROOT).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting and save it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}
		if err := env.settings.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := env.store.Save(env.settings); err != nil {
			return err
		}
		PrintSuccess(fmt.Sprintf("Set %s to %q", args[0], args[1]))
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore every setting to its default",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newEnvironment(cmd)
		if err != nil {
			return err
		}
		if err := env.store.Save(settings.Default()); err != nil {
			return err
		}
		PrintSuccess("Settings restored to defaults")
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List the settable keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return outputJSON(settings.Keys())
		}
		PrintSection("Setting Keys")
		PrintList(settings.Keys(), 1)
		return nil
	},
}

func runConfigShow(cmd *cobra.Command) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return err
	}

	rows := settingRows(env.settings)
	if jsonOutput {
		out := make(map[string]string, len(rows))
		for _, row := range rows {
			out[row[0]] = row[1]
		}
		return outputJSON(out)
	}

	PrintSection("Export Settings")
	PrintTable([]string{"KEY", "VALUE"}, rows)
	fmt.Println()
	PrintLabelValue("Settings file", env.paths.Settings)
	return nil
}

// settingRows lists every setting with its current value, in the same order
// as the settings file.
func settingRows(s *settings.Settings) [][]string {
	b := strconv.FormatBool
	return [][]string{
		{"output-directory", s.OutputDirectory},
		{"groups-as-directories", b(s.GroupsAsDirectories)},
		{"ignore-invisible", b(s.IgnoreInvisible)},
		{"autocrop", b(s.Autocrop)},
		{"use-image-size", b(s.UseImageSize)},
		{"extension-mode", s.ExtensionMode},
		{"strip-mode", s.StripMode},
		{"bracket-mode", s.BracketMode},
		{"crop-to-background", b(s.CropToBackground)},
		{"merge-groups", b(s.MergeGroups)},
		{"create-empty-dirs", b(s.CreateEmptyDirs)},
		{"ignore-layer-modes", b(s.IgnoreLayerModes)},
		{"default-extension", s.DefaultExtension},
		{"on-error", s.OnError},
		{"overwrite", s.Overwrite},
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configKeysCmd)
}
