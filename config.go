// Package atomagent brokers OAuth2 credentials for the Atom Agent assistant.
//
// This package holds the process-wide configuration. Components never read it
// directly: the broker package turns it into a Settings value once at startup
// and hands each component the options it needs.
package atomagent

import (
	"net"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rush86999/atomagent/errors"
	"github.com/rush86999/atomagent/internal/config"
)

// Filename of the standard configuration file.
const ConfigFile = "atomagent.yaml"

// EnvPrefix is the prefix of environment variables read into Config.
const EnvPrefix = "ATOM__"

// ConfigKeyInfo describes a known configuration key.
type ConfigKeyInfo = config.ConfigKeyInfo

// Config is the global koanf instance.
//
// Sources, later overriding earlier:
//  1. Registered defaults (applied by LoadSettings)
//  2. Auto-discovered atomagent.yaml
//  3. Environment variables with the ATOM__ prefix
//  4. Anything loaded through LoadConfigFile or LoadConfigDefaults
//
// ATOM__HASURA__ADMIN_SECRET becomes hasura.adminSecret.
var Config = koanf.New(".")

const (
	defaultPort = "8000"
	defaultHost = "localhost"
)

func init() {
	registerCoreConfigKeys()

	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(EnvPrefix, ".", config.EnvTransformer(EnvPrefix)), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents application keys so validation does not flag
// them.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterConfigKeys(infos...)
}

// LoadConfigFile merges a YAML file into Config.
func LoadConfigFile(path string) error {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		return errors.WrapPrefix(err, "error loading config file '"+path+"'", 0)
	}
	return nil
}

// LoadConfigDefaults merges a map of values into Config.
func LoadConfigDefaults(values map[string]interface{}) error {
	if err := Config.Load(confmap.Provider(values, "."), nil); err != nil {
		return errors.WrapPrefix(err, "error loading config defaults", 0)
	}
	return nil
}

// ValidateConfig returns warnings for unknown keys, with suggestions.
func ValidateConfig(k *koanf.Koanf) []config.ValidationWarning {
	return config.ValidateConfigKeys(k)
}

// FormatValidationWarnings renders ValidateConfig output for a log line.
func FormatValidationWarnings(w []config.ValidationWarning) string {
	return config.FormatValidationWarnings(w)
}

// Settings is the typed view of Config.
type Settings struct {
	Name      string                      `koanf:"name"`
	Address   string                      `koanf:"address"`
	Server    ServerSettings              `koanf:"server"`
	Logging   LoggingSettings             `koanf:"logging"`
	App       AppSettings                 `koanf:"app"`
	Hasura    HasuraSettings              `koanf:"hasura"`
	Storage   StorageSettings             `koanf:"storage"`
	Crypto    CryptoSettings              `koanf:"crypto"`
	Providers map[string]ProviderSettings `koanf:"providers"`
}

type ServerSettings struct {
	Host        string      `koanf:"host"`
	Port        int         `koanf:"port"`
	CORSOrigins []string    `koanf:"corsOrigins"`
	TLS         TLSSettings `koanf:"tls"`
}

type TLSSettings struct {
	CertFile string `koanf:"certFile"`
	KeyFile  string `koanf:"keyFile"`
}

type LoggingSettings struct {
	Mode string `koanf:"mode"`
}

// AppSettings configures the web application the broker sits behind.
type AppSettings struct {
	ClientType     string `koanf:"clientType"`
	SettingsPath   string `koanf:"settingsPath"`
	LoginPath      string `koanf:"loginPath"`
	StateSecret    string `koanf:"stateSecret"`
	IdentitySecret string `koanf:"identitySecret"`
}

type HasuraSettings struct {
	URL         string        `koanf:"url"`
	AdminSecret string        `koanf:"adminSecret"`
	Table       string        `koanf:"table"`
	Constraint  string        `koanf:"constraint"`
	Timeout     time.Duration `koanf:"timeout"`
}

type StorageSettings struct {
	Backend string `koanf:"backend"`
	DSN     string `koanf:"dsn"`
}

// CryptoSettings holds token encryption material. Key and IV are base64. When
// Passphrase and Salt are set the key is derived from them instead.
type CryptoSettings struct {
	Mode       string `koanf:"mode"`
	Key        string `koanf:"key"`
	IV         string `koanf:"iv"`
	Passphrase string `koanf:"passphrase"`
	Salt       string `koanf:"salt"`
}

// ProviderSettings are the OAuth client credentials of one integration.
type ProviderSettings struct {
	ClientID     string   `koanf:"clientId"`
	ClientSecret string   `koanf:"clientSecret"`
	RedirectURL  string   `koanf:"redirectUrl"`
	Scopes       []string `koanf:"scopes"`
	Tenant       string   `koanf:"tenant"`
	APIBaseURL   string   `koanf:"apiBaseUrl"`
}

// Provider returns the settings for name, or the zero value.
func (s Settings) Provider(name string) ProviderSettings {
	return s.Providers[name]
}

// LoadSettings applies registered defaults to k and decodes it.
func LoadSettings(k *koanf.Koanf) (Settings, error) {
	config.ApplyDefaults(k)

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, errors.WrapPrefix(err, "invalid configuration", 0)
	}
	return s, nil
}

func registerCoreConfigKeys() {
	config.RegisterConfigKeys(
		ConfigKeyInfo{Key: "name", Description: "User-facing name of the service", Type: "string", Default: "Atom Agent"},
		ConfigKeyInfo{Key: "address", Description: "External address used to build redirect URLs", Type: "string", Default: "http://" + net.JoinHostPort(defaultHost, defaultPort)},
		ConfigKeyInfo{Key: "server.host", Description: "Host to bind to", Type: "string", Default: defaultHost},
		ConfigKeyInfo{Key: "server.port", Description: "Port to bind to", Type: "int", Default: defaultPort},
		ConfigKeyInfo{Key: "server.corsOrigins", Description: "Origins allowed to call the JSON endpoints", Type: "[]string"},
		ConfigKeyInfo{Key: "server.tls.certFile", Description: "Certificate file, enables HTTPS", Type: "string"},
		ConfigKeyInfo{Key: "server.tls.keyFile", Description: "Key file for server.tls.certFile", Type: "string"},
		ConfigKeyInfo{Key: "logging.mode", Description: "dev, prod or none", Type: "string", Default: "prod"},

		ConfigKeyInfo{Key: "app.clientType", Description: "Client application that owns stored tokens", Type: "string", Default: "atom_agent"},
		ConfigKeyInfo{Key: "app.settingsPath", Description: "Page OAuth callbacks redirect to", Type: "string", Default: "/Settings/UserViewSettings"},
		ConfigKeyInfo{Key: "app.loginPath", Description: "Login page for expired sessions", Type: "string", Default: "/User/Login/UserLogin"},
		ConfigKeyInfo{Key: "app.stateSecret", Description: "HMAC key for OAuth state tokens", Type: "string", Secret: true},
		ConfigKeyInfo{Key: "app.identitySecret", Description: "HMAC key for bearer identity tokens", Type: "string", Secret: true},

		ConfigKeyInfo{Key: "hasura.url", Description: "GraphQL endpoint of the Hasura backend", Type: "string"},
		ConfigKeyInfo{Key: "hasura.adminSecret", Description: "Value of the X-Hasura-Admin-Secret header", Type: "string", Secret: true},
		ConfigKeyInfo{Key: "hasura.table", Description: "Table holding integration tokens", Type: "string", Default: "Calendar_Integration"},
		ConfigKeyInfo{Key: "hasura.constraint", Description: "Unique constraint on (userId, resource, clientType)", Type: "string", Default: "Calendar_Integration_userId_resource_clientType_key"},
		ConfigKeyInfo{Key: "hasura.timeout", Description: "Timeout for backend requests", Type: "duration", Default: "10s"},

		ConfigKeyInfo{Key: "storage.backend", Description: "hasura, memory, sqlite or postgres", Type: "string", Default: "hasura"},
		ConfigKeyInfo{Key: "storage.dsn", Description: "Data source for sqlite or postgres backends", Type: "string", Secret: true},

		ConfigKeyInfo{Key: "crypto.mode", Description: "sealed (random IV) or static (legacy fixed IV)", Type: "string", Default: "sealed"},
		ConfigKeyInfo{Key: "crypto.key", Description: "Base64 encoded 32 byte AES key", Type: "string", Secret: true},
		ConfigKeyInfo{Key: "crypto.iv", Description: "Base64 encoded 16 byte IV for legacy ciphertexts", Type: "string", Secret: true},
		ConfigKeyInfo{Key: "crypto.passphrase", Description: "Passphrase the AES key is derived from", Type: "string", Secret: true},
		ConfigKeyInfo{Key: "crypto.salt", Description: "Salt for key derivation", Type: "string", Secret: true},

		ConfigKeyInfo{Key: "providers", Description: "OAuth client settings keyed by integration", Type: "map"},
	)
}
