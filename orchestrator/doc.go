// Package orchestrator drives documents from the staging area to every
// configured vector store target.
//
// Each document's sync state is persisted in the state DB, independent of
// where its file currently lives:
//
//	staged -> locally_synced -> fully_synced (archived)
//
// Local ingestion is always required. The remote target is reached through
// a scoped tunnel; when it is unreachable documents stay locally_synced and
// are retried on the next run. A document is promoted to the archive only
// when every target's registry holds every chunk through a succeeded job.
// Reconcile applies that rule to all pending documents, so a run interrupted
// after the last remote write is repaired by the next one.
package orchestrator
