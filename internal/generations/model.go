package generations

import "time"

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Generation records one template fill and compile run and where its output lives.
type Generation struct {
	ID          string
	Sentence    string
	Status      string
	ErrorDetail string
	ErrorCode   string
	SourceKey   string
	ArtifactKey string
	MimeType    string
	SizeBytes   int64
	PageCount   int
	RequestID   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the generation will not change anymore.
func (g Generation) Terminal() bool {
	return g.Status == StatusCompleted || g.Status == StatusFailed
}

// GenerationRequest is the body accepted by the generate endpoints.
// Sentence is a pointer so an explicit empty string is accepted and only a missing field fails binding.
type GenerationRequest struct {
	Sentence *string `json:"sentence" binding:"required"`
}
