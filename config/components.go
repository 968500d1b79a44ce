package config

import (
	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/chunker"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/poiesic/kbsync/storage/milvus"
	"github.com/poiesic/kbsync/tunnel"
)

// AIConfig returns the embedding provider configuration.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIToken(c.Embedding.Token),
		ai.WithRequestTimeout(c.Embedding.Timeout.Duration),
	)
}

func (c *Config) ChunkerOptions() []chunker.Option {
	return []chunker.Option{
		chunker.WithMaxChunkSize(c.Chunking.MaxChunkSize),
		chunker.WithOverlap(c.Chunking.Overlap),
	}
}

func (c *Config) PipelineOptions() []ingestion.Option {
	return []ingestion.Option{
		ingestion.WithBatchSize(c.Ingestion.BatchSize),
		ingestion.WithPoolSize(c.Ingestion.PoolSize),
		ingestion.WithRetry(c.Ingestion.MaxRetries, c.Ingestion.RetryDelay.Duration),
	}
}

// LocalTarget describes the local target.
func (c *Config) LocalTarget() core.SyncTarget {
	return core.SyncTarget{ID: c.Local.ID, Driver: "badger", Collection: c.Local.Collection, Descriptor: c.State.Dir}
}

// RemoteTarget describes the remote target. Only meaningful when
// Remote.Enabled().
func (c *Config) RemoteTarget() core.SyncTarget {
	descriptor := c.Remote.Address
	if c.Remote.Driver == "pgvector" {
		descriptor = "table " + c.Remote.Collection
	}
	return core.SyncTarget{
		ID:         c.Remote.ID,
		Descriptor: descriptor,
		Driver:     c.Remote.Driver,
		Collection: c.Remote.Collection,
		Remote:     true,
	}
}

// MilvusOptions returns client options for addr, which is the tunnel's
// local address when a tunnel is configured.
func (c *Config) MilvusOptions(addr string) *milvus.Options {
	opts := milvus.NewOptions()
	opts.Address = addr
	opts.Collection = c.Remote.Collection
	opts.Username = c.Remote.Username
	opts.Password = c.Remote.Password
	if c.Remote.Database != "" {
		opts.Database = c.Remote.Database
	}
	if c.Remote.Timeout.Duration > 0 {
		opts.Timeout = c.Remote.Timeout.Duration
	}
	return opts
}

// TunnelConfig returns the forwarder configuration.
func (c *Config) TunnelConfig() tunnel.Config {
	return tunnel.Config{
		Command:      c.Tunnel.Command,
		Host:         c.Tunnel.Host,
		LocalPort:    c.Tunnel.LocalPort,
		HealthURL:    c.Tunnel.HealthURL,
		ReadyTimeout: c.Tunnel.ReadyTimeout.Duration,
		PollInterval: c.Tunnel.PollInterval.Duration,
		GracePeriod:  c.Tunnel.GracePeriod.Duration,
		LockDir:      c.Tunnel.LockDir,
	}
}
