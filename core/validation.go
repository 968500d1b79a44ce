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

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	return validate
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must contain non-whitespace content
//   - ID, DocumentID and ContentHash must be present
//   - ID and ContentHash must match the document, ordinal and text
//
// Every failure wraps ErrValidation.
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: %w: chunk is nil", ErrValidation, ErrInvalidChunk)
	}

	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrEmptyContent)
	}

	if err := validate.Struct(chunk); err != nil {
		return fmt.Errorf("%w: %w: %w", ErrValidation, ErrInvalidChunk, err)
	}

	if chunk.ID != ChunkIDFor(chunk.DocumentID, chunk.Ordinal) ||
		chunk.ContentHash != ChunkHash(chunk.DocumentID, chunk.Ordinal, chunk.Text) {
		return fmt.Errorf("%w: %w: %s", ErrValidation, ErrChunkIdentity, chunk.ID)
	}

	return nil
}

// ValidateVector rejects empty vectors and vectors holding NaN or Inf.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrValidation)
	}
	for i, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value at position %d", ErrValidation, i)
		}
	}
	return nil
}

// CheckDimension returns ErrDimensionMismatch when got differs from want.
// A zero want means no dimension has been established yet.
func CheckDimension(target string, want, got int) error {
	if want != 0 && want != got {
		return fmt.Errorf("%w: target %s expects %d, got %d", ErrDimensionMismatch, target, want, got)
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
