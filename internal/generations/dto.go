package generations

import "time"

type generateResponse struct {
	Message      string `json:"message"`
	PDFURL       string `json:"pdf_url"`
	GenerationID string `json:"generation_id"`
}

type submitResponse struct {
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
	StatusURL    string `json:"status_url"`
}

type generationView struct {
	GenerationID string     `json:"generation_id"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	PDFURL       string     `json:"pdf_url,omitempty"`
	PresignedURL string     `json:"presigned_url,omitempty"`
	SizeBytes    int64      `json:"size_bytes,omitempty"`
	PageCount    int        `json:"page_count,omitempty"`
	Detail       string     `json:"detail,omitempty"`
	Code         string     `json:"code,omitempty"`
}

func toView(gen Generation) generationView {
	view := generationView{
		GenerationID: gen.ID,
		Status:       gen.Status,
		CreatedAt:    gen.CreatedAt,
		StartedAt:    gen.StartedAt,
		CompletedAt:  gen.CompletedAt,
	}
	switch gen.Status {
	case StatusCompleted:
		view.PDFURL = ArtifactURL(gen.ID)
		view.SizeBytes = gen.SizeBytes
		view.PageCount = gen.PageCount
	case StatusFailed:
		view.Detail = gen.ErrorDetail
		view.Code = gen.ErrorCode
	}
	return view
}
