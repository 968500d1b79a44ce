package staging

import "errors"

var (
	// ErrSourceMissing indicates a document is neither in intake nor in the archive.
	ErrSourceMissing = errors.New("source document missing")

	// ErrContentChanged indicates the intake file differs from the prepared version.
	// The document has to be prepared again before it can be promoted.
	ErrContentChanged = errors.New("source document changed since prep")

	// ErrBatchNotFound indicates the prepared batch file doesn't exist.
	ErrBatchNotFound = errors.New("prepared batch not found")

	// ErrMalformedBatch indicates a prepared batch line failed to decode or validate.
	ErrMalformedBatch = errors.New("malformed prepared batch")
)
