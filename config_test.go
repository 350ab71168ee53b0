package atomagent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	k := koanf.New(".")
	s, err := LoadSettings(k)
	require.NoError(t, err)

	assert.Equal(t, "Atom Agent", s.Name)
	assert.Equal(t, 8000, s.Server.Port)
	assert.Equal(t, "atom_agent", s.App.ClientType)
	assert.Equal(t, "/Settings/UserViewSettings", s.App.SettingsPath)
	assert.Equal(t, "Calendar_Integration", s.Hasura.Table)
	assert.Equal(t, 10*time.Second, s.Hasura.Timeout)
	assert.Equal(t, "sealed", s.Crypto.Mode)
	assert.Equal(t, "hasura", s.Storage.Backend)
}

func TestLoadSettingsProviders(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]interface{}{
		"providers.msgraph.clientId":     "cid",
		"providers.msgraph.clientSecret": "secret",
		"providers.msgraph.tenant":       "common",
		"providers.msgraph.scopes":       []string{"User.Read", "offline_access"},
		"hasura.timeout":                 "3s",
	}, "."), nil))

	s, err := LoadSettings(k)
	require.NoError(t, err)

	graph := s.Provider("msgraph")
	assert.Equal(t, "cid", graph.ClientID)
	assert.Equal(t, "secret", graph.ClientSecret)
	assert.Equal(t, "common", graph.Tenant)
	assert.Equal(t, []string{"User.Read", "offline_access"}, graph.Scopes)
	assert.Equal(t, 3*time.Second, s.Hasura.Timeout)
	assert.Empty(t, s.Provider("zoom").ClientID)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hasura:\n  url: http://hasura.test/v1/graphql\n"), 0o600))

	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "http://hasura.test/v1/graphql", Config.String("hasura.url"))

	assert.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestValidateConfig(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]interface{}{
		"hasura.adminSecrt":          "x",
		"providers.gmail.clientId":   "id",
		"crypto.key":                 "k",
	}, "."), nil))

	warnings := ValidateConfig(k)
	require.Len(t, warnings, 1)
	assert.Equal(t, "hasura.adminSecrt", warnings[0].Key)
	assert.Contains(t, warnings[0].Suggestions, "hasura.adminSecret")
	assert.Contains(t, FormatValidationWarnings(warnings), "hasura.adminSecrt")
}
