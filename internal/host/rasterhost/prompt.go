package rasterhost

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"

	"github.com/mgreer/layerexport/internal/host"
)

// Prompter supplies the interactive format dialog. Implementations may
// block on user input.
type Prompter interface {
	// ConfigureFormat asks for the format's settings, starting from the
	// given defaults. Returns host.ErrDialogCancelled when dismissed.
	ConfigureFormat(format string, defaults host.FormatConfig) (host.FormatConfig, error)
}

// TerminalPrompter asks on the terminal.
type TerminalPrompter struct{}

// ConfigureFormat prompts for each setting, then confirms.
func (TerminalPrompter) ConfigureFormat(format string, defaults host.FormatConfig) (host.FormatConfig, error) {
	pterm.DefaultSection.Printf("%s export settings", format)

	out := defaults.Clone()
	if out == nil {
		out = host.FormatConfig{}
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := pterm.DefaultInteractiveTextInput.
			WithDefaultValue(out[k]).
			Show(fmt.Sprintf("%s %s", format, k))
		if err != nil {
			return nil, fmt.Errorf("reading %s %s: %w", format, k, err)
		}
		out[k] = value
	}

	confirmed, err := pterm.DefaultInteractiveConfirm.
		WithDefaultValue(true).
		Show(fmt.Sprintf("Export %s files with these settings?", format))
	if err != nil {
		return nil, fmt.Errorf("confirming %s settings: %w", format, err)
	}
	if !confirmed {
		return nil, host.ErrDialogCancelled
	}
	return out, nil
}

// ScriptedPrompter returns canned answers, for tests and non-interactive
// runs.
type ScriptedPrompter struct {
	// Configs maps format to the answer. A missing format falls back to
	// the defaults passed in.
	Configs map[string]host.FormatConfig

	// Cancel makes every dialog report cancellation.
	Cancel bool
}

// ConfigureFormat returns the scripted answer.
func (p *ScriptedPrompter) ConfigureFormat(format string, defaults host.FormatConfig) (host.FormatConfig, error) {
	if p.Cancel {
		return nil, host.ErrDialogCancelled
	}
	if cfg, ok := p.Configs[format]; ok {
		return cfg.Clone(), nil
	}
	return defaults.Clone(), nil
}
