// moneyvaultd is the sync server: encrypted blob storage with optimistic
// versioning plus the dedup verification proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/blobstore"
	"github.com/jask/moneyvault/internal/config"
	"github.com/jask/moneyvault/internal/llm"
	"github.com/jask/moneyvault/internal/logging"
	"github.com/jask/moneyvault/internal/server"
)

func main() {
	log := logging.New()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("moneyvaultd failed")
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Server.MetaPath), 0o700); err != nil {
		return fmt.Errorf("create meta dir: %w", err)
	}
	meta, err := server.OpenMeta(cfg.Server.MetaPath)
	if err != nil {
		return err
	}
	defer meta.Close()

	blobs, err := buildBlobstore(cfg.Server)
	if err != nil {
		return err
	}

	verifier := buildVerifier(cfg.LLM, log)

	srv := server.New(meta, blobs, verifier, server.HeaderSession{}, log)
	log.Info().
		Str("listen", cfg.Server.Listen).
		Str("blobs", cfg.Server.Blobs).
		Str("verifier", cfg.LLM.Provider).
		Msg("moneyvaultd listening")
	return srv.Router().Run(cfg.Server.Listen)
}

func buildBlobstore(cfg config.ServerConfig) (blobstore.Store, error) {
	switch cfg.Blobs {
	case "fs":
		return blobstore.NewFS(cfg.BlobsDir)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("blobs backend gcs requires server.gcsbucket")
		}
		return blobstore.NewGCS(context.Background(), cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unknown blobs backend %q", cfg.Blobs)
	}
}

func buildVerifier(cfg config.LLMConfig, log zerolog.Logger) llm.Verifier {
	switch cfg.Provider {
	case "gemini":
		if key := cfg.APIKeyValue(); key != "" {
			return llm.NewGeminiVerifier(key, cfg.Model)
		}
		log.Warn().Msg("gemini selected but no API key, using heuristic verifier")
		return llm.NewHeuristicVerifier()
	case "heuristic":
		return llm.NewHeuristicVerifier()
	case "off", "":
		return nil
	default:
		log.Warn().Str("provider", cfg.Provider).Msg("unknown verifier provider, disabling")
		return nil
	}
}
