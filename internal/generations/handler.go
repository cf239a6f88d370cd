package generations

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"cv-backend/internal/shared/server/middleware"
	"cv-backend/internal/shared/server/respond"
	"cv-backend/internal/shared/telemetry"
)

const (
	defaultListLimit  = 20
	maxListLimit      = 50
	defaultPresignTTL = 15 * time.Minute
)

// Handler wires HTTP handlers to the generations service.
type Handler struct {
	Svc        *Service
	PresignTTL time.Duration
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, PresignTTL: defaultPresignTTL}
}

// RegisterRoutes attaches generation routes to the router group.
// generateMiddleware runs in front of the endpoints that start a compile.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, generateMiddleware ...gin.HandlerFunc) {
	withMiddleware := func(final gin.HandlerFunc) []gin.HandlerFunc {
		chain := make([]gin.HandlerFunc, 0, len(generateMiddleware)+1)
		chain = append(chain, generateMiddleware...)
		return append(chain, final)
	}
	rg.POST("/generate-cv", withMiddleware(h.generate)...)
	rg.POST("/generations", withMiddleware(h.submit)...)
	rg.GET("/generations", h.list)
	rg.GET("/generations/:id", h.get)
	rg.GET("/download/:filename", h.download)
}

func (h *Handler) generate(c *gin.Context) {
	sentence, ok := bindSentence(c)
	if !ok {
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))

	gen, err := h.Svc.Generate(ctx, sentence)
	if gen.ID != "" {
		c.Set("generationId", gen.ID)
	}
	if err != nil {
		code, detail := DescribeFailure(err)
		respond.Error(c, failureStatus(code), code, detail)
		return
	}

	respond.OK(c, generateResponse{
		Message:      "CV generated successfully",
		PDFURL:       ArtifactURL(gen.ID),
		GenerationID: gen.ID,
	})
}

func (h *Handler) submit(c *gin.Context) {
	sentence, ok := bindSentence(c)
	if !ok {
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))

	gen, err := h.Svc.Submit(ctx, sentence)
	if gen.ID != "" {
		c.Set("generationId", gen.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			c.Header("Retry-After", "5")
			respond.Error(c, http.StatusServiceUnavailable, "queue_full", "Too many pending generations, retry later.")
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeEnqueueFailed, "failed to queue generation")
		}
		return
	}

	respond.JSON(c, http.StatusAccepted, submitResponse{
		GenerationID: gen.ID,
		Status:       gen.Status,
		StatusURL:    "/generations/" + gen.ID,
	})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	gen, err := h.Svc.Get(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusNotFound, "not_found", "Generation not found.")
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to fetch generation")
		}
		return
	}
	c.Set("generationId", gen.ID)

	view := toView(gen)
	if gen.Status == StatusCompleted {
		url, err := h.Svc.PresignArtifact(c.Request.Context(), gen, h.PresignTTL)
		if err != nil {
			telemetry.Warn("generation.presign_failed", map[string]any{
				"generation_id": gen.ID,
				"error":         err,
			})
		}
		view.PresignedURL = url
	}
	respond.OK(c, view)
}

func (h *Handler) list(c *gin.Context) {
	limit := defaultListLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	gens, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to list generations")
		return
	}

	resp := make([]generationView, 0, len(gens))
	for _, gen := range gens {
		resp = append(resp, toView(gen))
	}
	respond.OK(c, resp)
}

func (h *Handler) download(c *gin.Context) {
	filename := c.Param("filename")
	reader, gen, err := h.Svc.OpenArtifact(c.Request.Context(), filename)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "File not found.")
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to open file")
		}
		return
	}
	defer reader.Close()
	c.Set("generationId", gen.ID)

	c.Header("Content-Type", mimePDF)
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		telemetry.Warn("generation.download_interrupted", map[string]any{
			"generation_id": gen.ID,
			"error":         err,
		})
	}
}

// bindSentence decodes the request body. It writes the error response itself and reports false on failure.
func bindSentence(c *gin.Context) (string, bool) {
	var req GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large.")
			return "", false
		}
		respond.Error(c, http.StatusUnprocessableEntity, "validation_error", "sentence is required")
		return "", false
	}
	if strings.ContainsRune(*req.Sentence, 0) {
		respond.Error(c, http.StatusUnprocessableEntity, "validation_error", "sentence must not contain NUL characters")
		return "", false
	}
	return *req.Sentence, true
}

func failureStatus(code string) int {
	switch code {
	case ErrorCodeCompileTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
