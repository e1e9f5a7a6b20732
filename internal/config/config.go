// Package config loads moneyvault configuration from a TOML file with
// MONEYVAULT_ environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings for both binaries; each reads the sections
// it needs.
type Config struct {
	Server ServerConfig
	Client ClientConfig
	LLM    LLMConfig
	Dedup  DedupConfig
}

// ServerConfig holds the sync server settings.
type ServerConfig struct {
	Listen   string
	MetaPath string
	// Blobs selects the backend: "fs" or "gcs".
	Blobs     string
	BlobsDir  string
	GCSBucket string
}

// ClientConfig holds the client-side sync settings.
type ClientConfig struct {
	ServerURL string
	UserID    string
	KeyEnv    string
	Debounce  time.Duration
}

// LLMConfig holds verifier settings.
type LLMConfig struct {
	Provider  string // gemini | heuristic | off
	APIKeyEnv string
	APIKey    string
	Model     string
}

// DedupConfig exposes the matching thresholds.
type DedupConfig struct {
	ScoreDuplicate float64
	ScoreUncertain float64
	DateSkewDays   int
}

// Load reads configuration from file and env. Env var overrides use
// prefix MONEYVAULT_; MONEYVAULT_CONFIG points at an explicit file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", ":8787")
	v.SetDefault("server.metapath", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneyvault", "meta.db"))
	v.SetDefault("server.blobs", "fs")
	v.SetDefault("server.blobsdir", filepath.Join(os.Getenv("HOME"), ".local", "share", "moneyvault", "blobs"))
	v.SetDefault("server.gcsbucket", "")
	v.SetDefault("client.serverurl", "http://localhost:8787")
	v.SetDefault("client.userid", "")
	v.SetDefault("client.keyenv", "MONEYVAULT_KEY")
	v.SetDefault("client.debounce", "3s")
	v.SetDefault("llm.provider", "heuristic")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("dedup.scoreduplicate", 0.90)
	v.SetDefault("dedup.scoreuncertain", 0.65)
	v.SetDefault("dedup.dateskewdays", 3)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("MONEYVAULT_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "moneyvault"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MONEYVAULT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// APIKeyValue resolves the LLM key: explicit value wins, then the named
// env var.
func (l LLMConfig) APIKeyValue() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	return os.Getenv(l.APIKeyEnv)
}

// KeyValue resolves the vault encryption key from the configured env var.
func (c ClientConfig) KeyValue() string {
	return os.Getenv(c.KeyEnv)
}
