package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONEYVAULT_CONFIG", filepath.Join(t.TempDir(), "nonexistent.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8787", cfg.Server.Listen)
	require.Equal(t, "fs", cfg.Server.Blobs)
	require.Equal(t, "heuristic", cfg.LLM.Provider)
	require.Equal(t, 3*time.Second, cfg.Client.Debounce)
	require.InDelta(t, 0.90, cfg.Dedup.ScoreDuplicate, 1e-9)
	require.InDelta(t, 0.65, cfg.Dedup.ScoreUncertain, 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
listen = ":9000"
blobs = "gcs"
gcsbucket = "vault-blobs"

[client]
userid = "alice"
debounce = "250ms"
`), 0o600))
	t.Setenv("MONEYVAULT_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Listen)
	require.Equal(t, "gcs", cfg.Server.Blobs)
	require.Equal(t, "vault-blobs", cfg.Server.GCSBucket)
	require.Equal(t, "alice", cfg.Client.UserID)
	require.Equal(t, 250*time.Millisecond, cfg.Client.Debounce)
	// untouched sections keep defaults
	require.Equal(t, "heuristic", cfg.LLM.Provider)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("MONEYVAULT_CONFIG", filepath.Join(t.TempDir(), "nonexistent.toml"))
	t.Setenv("MONEYVAULT_SERVER_LISTEN", ":7777")
	t.Setenv("MONEYVAULT_LLM_PROVIDER", "gemini")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Server.Listen)
	require.Equal(t, "gemini", cfg.LLM.Provider)
}

func TestKeyResolution(t *testing.T) {
	t.Setenv("MONEYVAULT_KEY", "deadbeef")
	t.Setenv("GEMINI_API_KEY", "from-env")

	c := ClientConfig{KeyEnv: "MONEYVAULT_KEY"}
	require.Equal(t, "deadbeef", c.KeyValue())

	l := LLMConfig{APIKeyEnv: "GEMINI_API_KEY"}
	require.Equal(t, "from-env", l.APIKeyValue())
	l.APIKey = "explicit"
	require.Equal(t, "explicit", l.APIKeyValue())
}
