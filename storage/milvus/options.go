package milvus

import (
	"fmt"
	"time"
)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string

	// Database is the database name to use.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	// Collection receives the vectors. It is created at the first upsert.
	Collection string

	// Timeout bounds the initial connection.
	Timeout time.Duration

	// NList is the IVF_FLAT cluster count used when creating the index.
	NList int

	// NProbe is the number of clusters searched per query.
	NProbe int
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:    "localhost:19530",
		Database:   "default",
		Collection: "knowledge",
		Timeout:    30 * time.Second,
		NList:      128,
		NProbe:     16,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.Address == "" {
		return fmt.Errorf("milvus address is required")
	}
	if o.Collection == "" {
		return fmt.Errorf("milvus collection is required")
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("milvus timeout must be positive")
	}
	return nil
}
