package config

import (
	"github.com/knadh/koanf/v2"
)

// ApplyDefaults sets the registered default of every key that k does not
// already hold. Call it after all packages have registered their keys and
// before values are read.
func ApplyDefaults(k *koanf.Koanf) {
	for key, val := range DefaultConfigs() {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}
}
