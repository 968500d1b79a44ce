package core

import (
	"strings"
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "test content",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "long content",
			content:  "This is a much longer piece of content that should still hash consistently",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestDocumentIDFor(t *testing.T) {
	id := DocumentIDFor("notes/a.md")
	if len(id) != 16 {
		t.Fatalf("DocumentIDFor() = %q, want 16 hex digits", id)
	}
	if id != DocumentIDFor("notes/a.md") {
		t.Errorf("DocumentIDFor() is not stable")
	}
	if id == DocumentIDFor("notes/b.md") {
		t.Errorf("DocumentIDFor() collided for different paths")
	}
}

func TestChunkIDFor(t *testing.T) {
	if got := ChunkIDFor("abc", 3); got != "abc:3" {
		t.Errorf("ChunkIDFor() = %q, want abc:3", got)
	}
}

func TestChunkHash(t *testing.T) {
	base := ChunkHash("doc", 0, "Hello   world\n")

	if base != ChunkHash("doc", 0, " Hello world") {
		t.Errorf("ChunkHash() should ignore whitespace differences")
	}
	if base == ChunkHash("doc", 1, "Hello world") {
		t.Errorf("ChunkHash() should depend on the ordinal")
	}
	if base == ChunkHash("other", 0, "Hello world") {
		t.Errorf("ChunkHash() should depend on the document")
	}
	if len(base) != 64 {
		t.Errorf("ChunkHash() length = %d, want 64", len(base))
	}
}

func TestNewChunk(t *testing.T) {
	c := NewChunk("doc", 4, "one two  three")

	if c.ID != "doc:4" {
		t.Errorf("ID = %q", c.ID)
	}
	if c.WordCount != 3 {
		t.Errorf("WordCount = %d, want 3", c.WordCount)
	}
	if c.ContentHash != ChunkHash("doc", 4, "one two three") {
		t.Errorf("ContentHash does not match ChunkHash")
	}
}

func TestChunkMetadata_Map(t *testing.T) {
	m := ChunkMetadata{Source: "a.md", ChunkIndex: 1, TotalChunks: 3, WordCount: 12, ModelID: "m"}.Map()

	if m["source"] != "a.md" || m["chunk_index"] != "1" || m["total_chunks"] != "3" || m["word_count"] != "12" {
		t.Errorf("unexpected metadata map: %v", m)
	}
	if !strings.HasPrefix(m["ingested_at"], "0001-01-01") {
		t.Errorf("ingested_at = %q", m["ingested_at"])
	}
}
