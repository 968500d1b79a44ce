package storage

import (
	"testing"
	"time"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentState_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	state := &core.DocumentState{
		DocumentID:   "00000000000000aa",
		OriginPath:   "notes/a.md",
		ContentHash:  "abcd",
		BatchID:      "01JB0000000000000000000000",
		ChunkIDs:     []string{"00000000000000aa:0", "00000000000000aa:1"},
		ChunkHashes:  []string{"h0", "h1"},
		State:        core.StateLocallySynced,
		SyncFailures: map[string]string{"remote": "target unreachable"},
		UpdatedAt:    now,
	}

	decoded, err := UnmarshalDocumentState(MarshalDocumentState(state))
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestEmbeddingRecord_PreservesVector(t *testing.T) {
	rec := &core.EmbeddingRecord{
		ChunkID:     "doc:0",
		ContentHash: "h",
		Vector:      []float32{0.25, -1.5, 3.125},
		ModelID:     "embeddinggemma",
	}

	decoded, err := UnmarshalEmbeddingRecord(MarshalEmbeddingRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec.Vector, decoded.Vector)
	assert.True(t, decoded.GeneratedAt.IsZero())
}

func TestMarshalVectorRecord_DeterministicMetadata(t *testing.T) {
	rec := &VectorRecord{
		ID:       "doc:0",
		Text:     "text",
		Vector:   []float32{1},
		Metadata: map[string]string{"b": "2", "a": "1", "c": "3"},
	}

	first := MarshalVectorRecord(rec)
	for range 10 {
		assert.Equal(t, first, MarshalVectorRecord(rec))
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	job := MarshalJob(&core.IngestionJob{ID: "job", ChunkIDs: []string{"a", "b"}, Status: core.JobRunning})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"truncated job", job[:len(job)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalJob(tt.data)
			assert.ErrorIs(t, err, ErrSerializationFailed)
		})
	}
}

func TestCheckUpsertArgs(t *testing.T) {
	vec := []float32{1, 0}

	require.NoError(t, CheckUpsertArgs([]string{"a"}, [][]float32{vec}, []string{"t"}, nil))

	err := CheckUpsertArgs([]string{"a", "b"}, [][]float32{vec}, []string{"t", "u"}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	err = CheckUpsertArgs([]string{""}, [][]float32{vec}, []string{"t"}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	err = CheckUpsertArgs([]string{"a", "b"}, [][]float32{vec, {1, 0, 0}}, []string{"t", "u"}, nil)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}
