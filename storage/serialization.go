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


package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/kbsync/core"
)

// Records are encoded as a flat sequence of MUS fields. Each Marshal function
// runs its field list twice: once to size the buffer and once to fill it.

type writer struct {
	bs     []byte
	n      int
	sizing bool
}

func (w *writer) int(v int) {
	if w.sizing {
		w.n += varint.Int.Size(v)
		return
	}
	w.n += varint.Int.Marshal(v, w.bs[w.n:])
}

func (w *writer) string(v string) {
	if w.sizing {
		w.n += ord.String.Size(v)
		return
	}
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *writer) time(v time.Time) {
	var nanos int64
	if !v.IsZero() {
		nanos = v.UnixNano()
	}
	if w.sizing {
		w.n += varint.Int64.Size(nanos)
		return
	}
	w.n += varint.Int64.Marshal(nanos, w.bs[w.n:])
}

func (w *writer) strings(v []string) {
	w.int(len(v))
	for _, s := range v {
		w.string(s)
	}
}

func (w *writer) vector(v []float32) {
	w.int(len(v))
	for _, f := range v {
		if w.sizing {
			w.n += raw.Float32.Size(f)
			continue
		}
		w.n += raw.Float32.Marshal(f, w.bs[w.n:])
	}
}

// stringMap writes keys in sorted order so equal maps encode identically.
func (w *writer) stringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	w.int(len(keys))
	for _, k := range keys {
		w.string(k)
		w.string(m[k])
	}
}

func encode(fields func(w *writer)) []byte {
	sizer := &writer{sizing: true}
	fields(sizer)
	w := &writer{bs: make([]byte, sizer.n)}
	fields(w)
	return w.bs
}

// reader decodes fields in order; the first error sticks and later reads are no-ops.
type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) length() int {
	l := r.int()
	if r.err == nil && (l < 0 || l > len(r.bs)-r.n) {
		r.err = fmt.Errorf("invalid length %d", l)
		return 0
	}
	return l
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	nanos, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	if err != nil || nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

func (r *reader) strings() []string {
	l := r.length()
	if l == 0 {
		return nil
	}
	out := make([]string, l)
	for i := range out {
		out[i] = r.string()
	}
	return out
}

func (r *reader) vector() []float32 {
	l := r.length()
	if l == 0 {
		return nil
	}
	out := make([]float32, l)
	for i := range out {
		if r.err != nil {
			return nil
		}
		v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		r.err = err
		out[i] = v
	}
	return out
}

func (r *reader) stringMap() map[string]string {
	l := r.length()
	if l == 0 {
		return nil
	}
	out := make(map[string]string, l)
	for range l {
		k := r.string()
		out[k] = r.string()
	}
	return out
}

func decode(data []byte, fields func(r *reader)) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrSerializationFailed)
	}
	r := &reader{bs: data}
	fields(r)
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	return nil
}

// MarshalInt serializes an int to bytes.
func MarshalInt(v int) []byte {
	return encode(func(w *writer) { w.int(v) })
}

// UnmarshalInt deserializes an int from bytes.
func UnmarshalInt(data []byte) (int, error) {
	var v int
	err := decode(data, func(r *reader) { v = r.int() })
	return v, err
}

// MarshalDocumentState serializes a DocumentState to bytes.
func MarshalDocumentState(s *core.DocumentState) []byte {
	return encode(func(w *writer) {
		w.string(s.DocumentID)
		w.string(s.OriginPath)
		w.string(s.ContentHash)
		w.string(s.BatchID)
		w.strings(s.ChunkIDs)
		w.strings(s.ChunkHashes)
		w.string(string(s.State))
		w.stringMap(s.SyncFailures)
		w.string(s.LastError)
		w.string(s.ArchivePath)
		w.time(s.UpdatedAt)
	})
}

// UnmarshalDocumentState deserializes a DocumentState from bytes.
func UnmarshalDocumentState(data []byte) (*core.DocumentState, error) {
	s := &core.DocumentState{}
	err := decode(data, func(r *reader) {
		s.DocumentID = r.string()
		s.OriginPath = r.string()
		s.ContentHash = r.string()
		s.BatchID = r.string()
		s.ChunkIDs = r.strings()
		s.ChunkHashes = r.strings()
		s.State = core.DocState(r.string())
		s.SyncFailures = r.stringMap()
		s.LastError = r.string()
		s.ArchivePath = r.string()
		s.UpdatedAt = r.time()
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MarshalJob serializes an IngestionJob to bytes.
func MarshalJob(j *core.IngestionJob) []byte {
	return encode(func(w *writer) {
		w.string(j.ID)
		w.string(j.RunID)
		w.string(j.TargetID)
		w.string(j.DocumentID)
		w.strings(j.ChunkIDs)
		w.string(string(j.Status))
		w.time(j.StartedAt)
		w.time(j.CompletedAt)
		w.string(j.Error)
	})
}

// UnmarshalJob deserializes an IngestionJob from bytes.
func UnmarshalJob(data []byte) (*core.IngestionJob, error) {
	j := &core.IngestionJob{}
	err := decode(data, func(r *reader) {
		j.ID = r.string()
		j.RunID = r.string()
		j.TargetID = r.string()
		j.DocumentID = r.string()
		j.ChunkIDs = r.strings()
		j.Status = core.JobStatus(r.string())
		j.StartedAt = r.time()
		j.CompletedAt = r.time()
		j.Error = r.string()
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// MarshalRegistryEntry serializes a RegistryEntry to bytes.
func MarshalRegistryEntry(e *core.RegistryEntry) []byte {
	return encode(func(w *writer) {
		w.string(e.TargetID)
		w.string(e.ContentHash)
		w.string(e.ChunkID)
		w.string(e.DocumentID)
		w.string(e.JobID)
		w.time(e.RecordedAt)
	})
}

// UnmarshalRegistryEntry deserializes a RegistryEntry from bytes.
func UnmarshalRegistryEntry(data []byte) (*core.RegistryEntry, error) {
	e := &core.RegistryEntry{}
	err := decode(data, func(r *reader) {
		e.TargetID = r.string()
		e.ContentHash = r.string()
		e.ChunkID = r.string()
		e.DocumentID = r.string()
		e.JobID = r.string()
		e.RecordedAt = r.time()
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalEmbeddingRecord serializes an EmbeddingRecord to bytes.
func MarshalEmbeddingRecord(e *core.EmbeddingRecord) []byte {
	return encode(func(w *writer) {
		w.string(e.ChunkID)
		w.string(e.ContentHash)
		w.vector(e.Vector)
		w.string(e.ModelID)
		w.time(e.GeneratedAt)
	})
}

// UnmarshalEmbeddingRecord deserializes an EmbeddingRecord from bytes.
func UnmarshalEmbeddingRecord(data []byte) (*core.EmbeddingRecord, error) {
	e := &core.EmbeddingRecord{}
	err := decode(data, func(r *reader) {
		e.ChunkID = r.string()
		e.ContentHash = r.string()
		e.Vector = r.vector()
		e.ModelID = r.string()
		e.GeneratedAt = r.time()
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(v *VectorRecord) []byte {
	return encode(func(w *writer) {
		w.string(v.ID)
		w.string(v.Text)
		w.vector(v.Vector)
		w.stringMap(v.Metadata)
	})
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*VectorRecord, error) {
	v := &VectorRecord{}
	err := decode(data, func(r *reader) {
		v.ID = r.string()
		v.Text = r.string()
		v.Vector = r.vector()
		v.Metadata = r.stringMap()
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
