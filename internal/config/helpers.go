package config

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// SearchForConfig looks for filename in startDir and then in each parent
// directory. It returns the absolute path of the first match, or "".
func SearchForConfig(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// EnvTransformer returns a koanf env key transformer for the given prefix.
//
//	ATOM__HASURA__ADMIN_SECRET      -> hasura.adminSecret
//	ATOM__PROVIDERS__MSGRAPH__TENANT -> providers.msgraph.tenant
func EnvTransformer(prefix string) func(string) string {
	return func(s string) string {
		return TransformEnv(prefix, s)
	}
}

// TransformEnv strips prefix from an environment variable name, lower cases
// it, turns double underscores into dots and single underscores into
// camelCase boundaries.
func TransformEnv(prefix, s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, prefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = upperFirst(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func upperFirst(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
