// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads kbsync settings from a TOML file with secrets
// overlaid from the environment and .env files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/kbsync/core"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "kbsync.toml"

// Environment variables read by Load. They take precedence over the file.
const (
	EnvEmbeddingHost  = "KBSYNC_EMBEDDING_HOST"
	EnvEmbeddingToken = "KBSYNC_EMBEDDING_TOKEN"
	EnvRemotePassword = "KBSYNC_REMOTE_PASSWORD"
	EnvRemoteDSN      = "KBSYNC_REMOTE_DSN"
)

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full kbsync configuration.
type Config struct {
	Staging   StagingConfig   `toml:"staging"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Ingestion IngestionConfig `toml:"ingestion"`
	State     StateConfig     `toml:"state"`
	Local     LocalConfig     `toml:"local"`
	Remote    RemoteConfig    `toml:"remote"`
	Tunnel    TunnelConfig    `toml:"tunnel"`
}

type StagingConfig struct {
	Root string `toml:"root" validate:"required"`
}

type ChunkingConfig struct {
	MaxChunkSize int `toml:"max_chunk_size" validate:"min=1"`
	Overlap      int `toml:"overlap" validate:"min=0,ltfield=MaxChunkSize"`
}

type EmbeddingConfig struct {
	Host    string   `toml:"host" validate:"required,url"`
	Model   string   `toml:"model" validate:"required"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

type IngestionConfig struct {
	BatchSize  int      `toml:"batch_size" validate:"min=1"`
	PoolSize   int      `toml:"pool_size" validate:"min=1"`
	MaxRetries int      `toml:"max_retries" validate:"min=1"`
	RetryDelay Duration `toml:"retry_delay"`
}

// StateConfig locates the badger state DB. An empty Dir keeps state in
// memory, which only makes sense for tests.
type StateConfig struct {
	Dir string `toml:"dir"`
}

// LocalConfig is the local target. Its vectors live in the state DB.
type LocalConfig struct {
	ID         string `toml:"id" validate:"required"`
	Collection string `toml:"collection" validate:"required"`
}

// RemoteConfig is the optional remote target. An empty Driver means no
// remote is configured.
type RemoteConfig struct {
	ID         string   `toml:"id" validate:"required_with=Driver"`
	Driver     string   `toml:"driver" validate:"omitempty,oneof=milvus pgvector"`
	Address    string   `toml:"address" validate:"required_if=Driver milvus"`
	Database   string   `toml:"database"`
	Username   string   `toml:"username"`
	Password   string   `toml:"password"`
	Collection string   `toml:"collection" validate:"required_with=Driver"`
	DSN        string   `toml:"dsn" validate:"required_if=Driver pgvector"`
	Timeout    Duration `toml:"timeout"`
}

// Enabled reports whether a remote target is configured.
func (r RemoteConfig) Enabled() bool {
	return r.Driver != ""
}

// TunnelConfig describes the port forward to the remote. An empty Command
// means the remote address is dialled directly.
type TunnelConfig struct {
	Command      []string `toml:"command"`
	Host         string   `toml:"host"`
	LocalPort    int      `toml:"local_port" validate:"omitempty,min=1,max=65535"`
	HealthURL    string   `toml:"health_url" validate:"omitempty,url"`
	ReadyTimeout Duration `toml:"ready_timeout"`
	PollInterval Duration `toml:"poll_interval"`
	GracePeriod  Duration `toml:"grace_period"`

	// LockDir holds the per-port lock file. Runs that share a port must
	// share it. Defaults to the system temp dir.
	LockDir string `toml:"lock_dir"`
}

// Enabled reports whether a forwarder must be started.
func (t TunnelConfig) Enabled() bool {
	return len(t.Command) > 0
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Staging:  StagingConfig{Root: "kb"},
		Chunking: ChunkingConfig{MaxChunkSize: 1000, Overlap: 100},
		Embedding: EmbeddingConfig{
			Host:    "http://localhost:11434/v1",
			Model:   "embeddinggemma",
			Token:   "none",
			Timeout: Duration{60 * time.Second},
		},
		Ingestion: IngestionConfig{
			BatchSize:  32,
			PoolSize:   4,
			MaxRetries: 3,
			RetryDelay: Duration{500 * time.Millisecond},
		},
		State: StateConfig{Dir: ".kbsync"},
		Local: LocalConfig{ID: "local", Collection: "knowledge"},
		Remote: RemoteConfig{
			ID:       "remote",
			Database: "default",
			Timeout:  Duration{30 * time.Second},
		},
		Tunnel: TunnelConfig{
			Host:         "127.0.0.1",
			ReadyTimeout: Duration{30 * time.Second},
			PollInterval: Duration{500 * time.Millisecond},
			GracePeriod:  Duration{5 * time.Second},
		},
	}
}

// Load reads path over the defaults, overlays secrets from the process
// environment and envFiles, then validates. An empty path loads
// DefaultPath if it exists. Missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrValidation, path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := applyEnv(cfg, envFiles); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// Validate checks the struct tags and the cross-field rules tags can't express.
func (c *Config) Validate() error {
	if err := core.Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", core.ErrValidation, err)
	}
	if c.Remote.Enabled() && c.Remote.ID == c.Local.ID {
		return fmt.Errorf("%w: remote id %q must differ from local id", core.ErrValidation, c.Remote.ID)
	}
	if c.Tunnel.Enabled() {
		if !c.Remote.Enabled() {
			return fmt.Errorf("%w: tunnel configured without a remote", core.ErrValidation)
		}
		if c.Tunnel.LocalPort == 0 {
			return fmt.Errorf("%w: tunnel local_port is required", core.ErrValidation)
		}
	}
	return nil
}

// Encode writes cfg as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
