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


package core

import "errors"

// Error classes shared by every stage of the pipeline.
var (
	// ErrValidation indicates malformed input. It fails the affected document only.
	ErrValidation = errors.New("validation error")

	// ErrDimensionMismatch indicates vectors whose length differs from the
	// target's established dimension. It aborts the whole run.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrTargetUnreachable indicates a vector store that cannot be contacted.
	// Only the affected target is skipped.
	ErrTargetUnreachable = errors.New("target unreachable")
)

// Domain validation errors
var (
	// ErrEmptyContent indicates the chunk text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrChunkIdentity indicates a chunk id or hash that does not match its content.
	ErrChunkIdentity = errors.New("chunk identity does not match content")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")
)
