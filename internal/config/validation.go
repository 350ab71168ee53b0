package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// ValidationWarning flags an unknown or deprecated key.
type ValidationWarning struct {
	Key         string
	Suggestions []string
}

func (w ValidationWarning) String() string {
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ". Did you mean one of these?\n"
		for _, s := range w.Suggestions {
			msg += fmt.Sprintf("    - %s\n", s)
		}
	}
	return msg
}

// ValidateConfigKeys compares every loaded key against the registry.
func ValidateConfigKeys(k *koanf.Koanf) []ValidationWarning {
	var warnings []ValidationWarning
	for _, key := range k.Keys() {
		if info, ok := LookupConfigKey(key); ok {
			if info.Deprecated {
				warnings = append(warnings, ValidationWarning{Key: key, Suggestions: []string{info.ReplacedBy}})
			}
			continue
		}
		if HasRegisteredPrefix(key) {
			continue
		}
		warnings = append(warnings, ValidationWarning{Key: key, Suggestions: FindSimilarKeys(key, 3)})
	}
	return warnings
}

// FormatValidationWarnings renders warnings for a startup log line.
func FormatValidationWarnings(warnings []ValidationWarning) string {
	if len(warnings) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Configuration warnings:\n")
	for _, w := range warnings {
		for i, line := range strings.Split(w.String(), "\n") {
			if line == "" {
				continue
			}
			if i == 0 {
				sb.WriteString("  - " + line + "\n")
			} else {
				sb.WriteString("    " + line + "\n")
			}
		}
	}
	sb.WriteString("Register application keys with RegisterConfigKeys() to silence these.\n")
	return sb.String()
}
