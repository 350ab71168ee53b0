package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// ConfigKeyInfo describes a known configuration key.
type ConfigKeyInfo struct {
	Key         string      // Full dotted path, e.g. "hasura.adminSecret".
	Description string      // Human readable description.
	Type        string      // "string", "int", "bool", "duration", "[]string", ...
	Default     interface{} // Optional default value.
	Secret      bool        // Value must never be logged.
	Deprecated  bool        // Key is deprecated.
	ReplacedBy  string      // Replacement for a deprecated key.
}

var (
	registry   = make(map[string]ConfigKeyInfo)
	registryMu sync.RWMutex
)

// RegisterConfigKeys adds keys to the registry. Re-registering a key replaces
// its metadata.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterConfigKey adds a single key to the registry.
func RegisterConfigKey(info ConfigKeyInfo) {
	RegisterConfigKeys(info)
}

// RegisterDeprecatedKey records that oldKey has been replaced by newKey.
func RegisterDeprecatedKey(oldKey, newKey string) {
	RegisterConfigKeys(ConfigKeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// LookupConfigKey returns metadata for a registered key.
func LookupConfigKey(key string) (ConfigKeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// IsRegisteredKey reports whether key is known.
func IsRegisteredKey(key string) bool {
	_, ok := LookupConfigKey(key)
	return ok
}

// AllRegisteredKeys returns the registered keys in sorted order.
func AllRegisteredKeys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultConfigs returns every registered key that has a default.
func DefaultConfigs() map[string]interface{} {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := make(map[string]interface{})
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// FindSimilarKeys returns up to maxResults registered keys within an edit
// distance of 3 of key, closest first. Keys in the same namespace get a one
// point bonus.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}

	var candidates []scored
	prefix := namespace(key)
	for registered := range registry {
		d := levenshtein.ComputeDistance(key, registered)
		if prefix != "" && prefix == namespace(registered) && d > 0 {
			d--
		}
		if d <= 3 {
			candidates = append(candidates, scored{registered, d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	out := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		out = append(out, candidates[i].key)
	}
	return out
}

// namespace returns everything before the last dot of key.
func namespace(key string) string {
	i := strings.LastIndex(key, ".")
	if i == -1 {
		return ""
	}
	return key[:i]
}

// HasRegisteredPrefix reports whether some ancestor of key is registered.
// Registering "providers" therefore allows any "providers.*" key.
func HasRegisteredPrefix(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	parts := strings.Split(key, ".")
	for i := len(parts) - 1; i > 0; i-- {
		if _, ok := registry[strings.Join(parts[:i], ".")]; ok {
			return true
		}
	}
	return false
}
