package generations

import "errors"

var (
	// ErrNotFound indicates an entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates validation or bad input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrArtifactMissing indicates the compiler exited cleanly but left no PDF behind.
	ErrArtifactMissing = errors.New("PDF generation failed")

	// ErrQueueFull indicates the job queue rejected a new generation.
	ErrQueueFull = errors.New("queue full")
)
