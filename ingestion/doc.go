// Package ingestion writes prepared chunks to a vector store target.
//
// A Pipeline run goes through three stages against a single target:
//   - dedup: chunks whose content hash the target's registry already holds are skipped
//   - embedding: remaining chunks are embedded in batches on a worker pool,
//     reusing cached vectors, and all vectors are checked against the
//     target's established dimension
//   - write: each document is upserted under its own IngestionJob and its
//     chunk hashes are recorded in the registry after the job succeeded
//
// Provider failures and dimension mismatches abort the run before anything
// is written. A failed upsert fails only the document being written.
package ingestion
