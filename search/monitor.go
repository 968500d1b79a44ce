package search

import "github.com/poiesic/kbsync/storage"

// RetrievalMonitor provides hooks to observe a retrieval.
type RetrievalMonitor interface {
	Start(query string)
	AfterEmbedding(dim int)
	AfterQuery(matches []storage.QueryMatch)
	VerbatimHit(hit *Hit)
	Finish(hits []*Hit)
}

// noopMonitor is a no-op implementation of RetrievalMonitor
type noopMonitor struct{}

var _ RetrievalMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                    {}
func (n *noopMonitor) AfterEmbedding(_ int)              {}
func (n *noopMonitor) AfterQuery(_ []storage.QueryMatch) {}
func (n *noopMonitor) VerbatimHit(_ *Hit)                {}
func (n *noopMonitor) Finish(_ []*Hit)                   {}
