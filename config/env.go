package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// applyEnv overlays secrets. The process environment wins over env files,
// and earlier files win over later ones.
func applyEnv(cfg *Config, envFiles []string) error {
	fromFiles := make(map[string]string)
	for i := len(envFiles) - 1; i >= 0; i-- {
		values, err := godotenv.Read(envFiles[i])
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", envFiles[i], err)
		}
		for k, v := range values {
			fromFiles[k] = v
		}
	}

	lookup := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
			return
		}
		if v, ok := fromFiles[key]; ok && v != "" {
			*dst = v
		}
	}
	lookup(EnvEmbeddingHost, &cfg.Embedding.Host)
	lookup(EnvEmbeddingToken, &cfg.Embedding.Token)
	lookup(EnvRemotePassword, &cfg.Remote.Password)
	lookup(EnvRemoteDSN, &cfg.Remote.DSN)
	return nil
}
