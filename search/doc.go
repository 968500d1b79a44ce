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


// Package search is the read-only retrieval path over a sync target.
//
// A Retriever embeds the query with the same provider used for ingestion,
// runs a k-NN query against one vector store and ranks the matches:
//   - Similarity is 1 - cosine distance
//   - Matches containing every non-stop-word of the query get a verbatim boost
//
// An empty collection yields no hits rather than an error.
package search
