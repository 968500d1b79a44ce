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


// Package storage provides the storage abstraction layer for kbsync.
//
// Two kinds of storage live behind these interfaces:
//
//   - VectorStore: a vector database collection (local BadgerDB, Milvus, pgvector)
//   - Registry, JobRepository, DocumentRepository, EmbeddingRepository: the
//     pipeline's state database, always BadgerDB
//
// # Constructor Return Type Pattern
//
// Public constructors in the driver packages return interface types so callers
// never couple to a particular backend:
//
//	store, err := milvus.NewStore(ctx, opts)  // returns storage.VectorStore
//
// The state repositories return concrete types because they share one backend
// and are only ever used through the interfaces above.
//
// # Usage
//
// Open the state database and its repositories:
//
//	backend, err := badger.OpenBackend("/path/to/state", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	registry := badger.NewRegistry(backend)
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//
// # Serialization
//
// State records are encoded with MUS (github.com/mus-format/mus-go). Encoded
// maps are written in key order so identical values produce identical bytes.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
//
// # Context Support
//
// All methods accept context.Context for cancellation and timeout support.
package storage
