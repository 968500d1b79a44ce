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


package ingestion

import (
	"context"
	"time"

	"github.com/poiesic/kbsync/core"
)

// processor is one stage of a pipeline run. Stages run in order over the
// same run state. An error from process aborts the run; failures scoped to
// a single document are recorded on that document's result instead.
type processor interface {
	name() string
	process(ctx context.Context, r *run) error
}

// run is the state shared by the stages of one Run call.
type run struct {
	req     Request
	modelID string
	started time.Time

	// established is the target's vector dimension before this run, 0 if none.
	established int

	docs   []*docRun
	result *Result
}

// docRun tracks one document through the stages.
type docRun struct {
	doc    Document
	result *DocumentResult

	// pending are the chunks that must be written, in ordinal order.
	// vectors is filled by the embedding stage, aligned with pending.
	pending []core.Chunk
	vectors [][]float32
}

func (d *docRun) failed() bool {
	return d.result.Err != nil
}

// pendingChunks returns every chunk awaiting a write across healthy
// documents, in document then ordinal order.
func (r *run) pendingChunks() []core.Chunk {
	var out []core.Chunk
	for _, d := range r.docs {
		if !d.failed() {
			out = append(out, d.pending...)
		}
	}
	return out
}
