package naming

import "strings"

// windowsReserved lists basenames that are invalid on Windows filesystems
// regardless of extension.
var windowsReserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// Sanitize rewrites a layer or group name into a safe single path segment.
// Path separators and characters that are illegal on common filesystems are
// replaced with underscores, trailing periods and spaces are trimmed, and
// Windows reserved device names are suffixed. An empty result falls back to
// "untitled" so every node always resolves to some name.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r == '<' || r == '>' || r == ':' || r == '"' || r == '|' || r == '?' || r == '*':
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimRight(b.String(), ". ")
	out = strings.TrimSpace(out)
	if out == "" || out == "." || out == ".." {
		return "untitled"
	}

	upper := strings.ToUpper(out)
	if dot := strings.IndexByte(upper, '.'); dot > 0 {
		upper = upper[:dot]
	}
	if _, ok := windowsReserved[upper]; ok {
		out += "_"
	}
	return out
}
