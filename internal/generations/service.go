package generations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"cv-backend/internal/latex"
	"cv-backend/internal/queue"
	"cv-backend/internal/shared/metrics"
	"cv-backend/internal/shared/storage/object"
	"cv-backend/internal/shared/telemetry"
	"cv-backend/internal/shared/util"
)

const (
	// SourceName is the filled document written into each work dir.
	SourceName = "generated_cv.tex"
	// LegacyArtifactName always resolves to the most recently completed generation.
	LegacyArtifactName = "generated_cv.pdf"

	ErrorCodeTemplateMissing     = "template_not_found"
	ErrorCodeCompileFailed       = "compile_failed"
	ErrorCodeCompileTimeout      = "compile_timeout"
	ErrorCodeCompilerUnavailable = "compiler_unavailable"
	ErrorCodeArtifactMissing     = "artifact_missing"
	ErrorCodeCanceled            = "canceled"
	ErrorCodeEnqueueFailed       = "enqueue_failed"
	ErrorCodeInternal            = "internal_error"
)

// Config carries the settings a Service needs beyond its collaborators.
type Config struct {
	TemplatePath          string
	Placeholder           string
	WorkDir               string
	KeepWorkDirs          bool
	MaxConcurrentCompiles int
}

// Service fills the template, compiles it and persists the artifact for each generation.
type Service struct {
	Repo     Repo
	Store    object.ObjectStore
	Compiler latex.Compiler
	Queue    queue.Client

	cfg   Config
	slots chan struct{}
	now   func() time.Time
}

// NewService constructs a Service. Queue may be nil when only synchronous generation is used.
func NewService(repo Repo, store object.ObjectStore, compiler latex.Compiler, q queue.Client, cfg Config) *Service {
	if cfg.MaxConcurrentCompiles <= 0 {
		cfg.MaxConcurrentCompiles = 1
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = "{{PLACEHOLDER}}"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Service{
		Repo:     repo,
		Store:    store,
		Compiler: compiler,
		Queue:    q,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrentCompiles),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Generate runs the whole pipeline for sentence before returning.
// The returned Generation is populated even on failure so callers can report its ID.
func (s *Service) Generate(ctx context.Context, sentence string) (Generation, error) {
	if err := s.ready(); err != nil {
		return Generation{}, err
	}
	now := s.now()
	gen := Generation{
		ID:        uuid.NewString(),
		Sentence:  sentence,
		Status:    StatusProcessing,
		RequestID: requestIDFromContext(ctx),
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := s.Repo.Create(ctx, gen); err != nil {
		return Generation{}, fmt.Errorf("create generation: %w", err)
	}
	telemetry.Info("generation.status", s.statusFields(ctx, gen, "new->processing"))
	return s.run(ctx, gen)
}

// Submit records a queued generation and hands it to the queue.
func (s *Service) Submit(ctx context.Context, sentence string) (Generation, error) {
	if err := s.ready(); err != nil {
		return Generation{}, err
	}
	if s.Queue == nil {
		return Generation{}, errors.New("missing queue")
	}
	gen := Generation{
		ID:        uuid.NewString(),
		Sentence:  sentence,
		Status:    StatusQueued,
		RequestID: requestIDFromContext(ctx),
		CreatedAt: s.now(),
	}
	if err := s.Repo.Create(ctx, gen); err != nil {
		return Generation{}, fmt.Errorf("create generation: %w", err)
	}

	if err := s.Queue.Send(ctx, queue.NewMessage(gen.ID, gen.RequestID, s.now())); err != nil {
		completedAt := s.now()
		gen.Status = StatusFailed
		gen.ErrorCode = ErrorCodeEnqueueFailed
		gen.ErrorDetail = "Generation could not be queued."
		gen.CompletedAt = &completedAt
		if updateErr := s.Repo.Update(context.Background(), gen); updateErr != nil {
			telemetry.Error("generation.enqueue_rollback_failed", map[string]any{
				"generation_id": gen.ID,
				"error":         updateErr,
			})
		}
		if errors.Is(err, queue.ErrFull) {
			return gen, ErrQueueFull
		}
		return gen, fmt.Errorf("enqueue generation: %w", err)
	}

	metrics.IncJobsEnqueued()
	telemetry.Info("generation.status", s.statusFields(ctx, gen, "new->queued"))
	return gen, nil
}

// ProcessGeneration runs a queued generation. Terminal generations are left untouched.
func (s *Service) ProcessGeneration(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	if err := s.ready(); err != nil {
		return err
	}
	gen, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if gen.Terminal() {
		telemetry.Info("generation.skip_terminal", map[string]any{
			"generation_id": gen.ID,
			"status":        gen.Status,
		})
		return nil
	}

	startedAt := s.now()
	previous := gen.Status
	gen.Status = StatusProcessing
	gen.StartedAt = &startedAt
	if err := s.Repo.Update(ctx, gen); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}
	telemetry.Info("generation.status", s.statusFields(ctx, gen, previous+"->processing"))

	_, err = s.run(WithRequestID(ctx, gen.RequestID), gen)
	return err
}

// Get returns a generation by ID.
func (s *Service) Get(ctx context.Context, id string) (Generation, error) {
	if strings.TrimSpace(id) == "" {
		return Generation{}, ErrInvalidInput
	}
	return s.Repo.GetByID(ctx, id)
}

// List returns generations ordered newest-first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Generation, error) {
	return s.Repo.List(ctx, limit, offset)
}

// Resolve maps a download file name to the completed generation it names.
// "<id>.pdf" addresses one generation and LegacyArtifactName the latest completed one.
func (s *Service) Resolve(ctx context.Context, filename string) (Generation, error) {
	name, err := util.SanitizeFileName(filename)
	if err != nil || name != filename {
		return Generation{}, ErrNotFound
	}
	if name == LegacyArtifactName {
		return s.Repo.LatestCompleted(ctx)
	}

	id, ok := strings.CutSuffix(name, ".pdf")
	if !ok {
		return Generation{}, ErrNotFound
	}
	if parsed, err := uuid.Parse(id); err != nil || parsed.String() != id {
		return Generation{}, ErrNotFound
	}
	gen, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return Generation{}, err
	}
	if gen.Status != StatusCompleted || gen.ArtifactKey == "" {
		return Generation{}, ErrNotFound
	}
	return gen, nil
}

// OpenArtifact resolves filename and opens the stored PDF. Callers must close the reader.
func (s *Service) OpenArtifact(ctx context.Context, filename string) (io.ReadCloser, Generation, error) {
	gen, err := s.Resolve(ctx, filename)
	if err != nil {
		return nil, Generation{}, err
	}
	reader, err := s.Store.Open(ctx, gen.ArtifactKey)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, Generation{}, ErrNotFound
		}
		return nil, Generation{}, err
	}
	return reader, gen, nil
}

// PresignArtifact returns a direct download URL when the store supports it, or "".
func (s *Service) PresignArtifact(ctx context.Context, gen Generation, ttl time.Duration) (string, error) {
	presigner, ok := s.Store.(object.URLPresigner)
	if !ok || gen.Status != StatusCompleted || gen.ArtifactKey == "" {
		return "", nil
	}
	return presigner.PresignGet(ctx, gen.ArtifactKey, gen.ID+".pdf", ttl)
}

// ArtifactURL is the download path served for a completed generation.
func ArtifactURL(id string) string {
	return "/download/" + id + ".pdf"
}

func (s *Service) ready() error {
	if s.Repo == nil || s.Store == nil || s.Compiler == nil {
		return errors.New("missing dependencies")
	}
	return nil
}

func (s *Service) run(ctx context.Context, gen Generation) (Generation, error) {
	metrics.IncGenerationStarted()
	startedAt := s.now()
	if gen.StartedAt != nil {
		startedAt = *gen.StartedAt
	}

	if err := s.produce(ctx, &gen); err != nil {
		return s.fail(ctx, gen, err, startedAt), err
	}

	completedAt := s.now()
	gen.Status = StatusCompleted
	gen.ErrorCode = ""
	gen.ErrorDetail = ""
	gen.CompletedAt = &completedAt
	if err := s.Repo.Update(context.Background(), gen); err != nil {
		err = fmt.Errorf("set completed: %w", err)
		return s.fail(ctx, gen, err, startedAt), err
	}

	metrics.IncGenerationCompleted()
	telemetry.Info("generation.status", telemetry.Fields(s.statusFields(ctx, gen, "processing->completed"), map[string]any{
		"duration_ms": durationMs(startedAt, completedAt),
		"size_bytes":  gen.SizeBytes,
		"page_count":  gen.PageCount,
		"mime_type":   gen.MimeType,
	}))
	return gen, nil
}

// produce fills and compiles inside WORK_DIR/<id> and uploads source and artifact.
func (s *Service) produce(ctx context.Context, gen *Generation) error {
	dir := filepath.Join(s.cfg.WorkDir, gen.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if !s.cfg.KeepWorkDirs {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				telemetry.Warn("generation.cleanup_failed", map[string]any{"generation_id": gen.ID, "error": err})
			}
		}()
	}

	sourcePath := filepath.Join(dir, SourceName)
	fill, err := latex.FillFile(ctx, s.cfg.TemplatePath, sourcePath, s.cfg.Placeholder, gen.Sentence)
	if err != nil {
		return err
	}
	if fill.Replacements == 0 {
		telemetry.Warn("generation.placeholder_missing", map[string]any{
			"generation_id": gen.ID,
			"template":      s.cfg.TemplatePath,
			"placeholder":   s.cfg.Placeholder,
		})
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	compileStart := time.Now()
	artifactPath, err := s.Compiler.Compile(ctx, dir, SourceName)
	metrics.ObserveCompileDurationMs(durationMs(compileStart, time.Now()))
	release()
	if err != nil {
		return err
	}

	info, err := inspectArtifact(artifactPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrArtifactMissing
		}
		return fmt.Errorf("%w: %v", ErrArtifactMissing, err)
	}
	if info.MimeType != mimePDF && !strings.HasPrefix(info.MimeType, mimePDF+";") {
		telemetry.Warn("generation.unexpected_mime", map[string]any{
			"generation_id": gen.ID,
			"mime_type":     info.MimeType,
		})
	}

	prefix := "generations/" + gen.ID + "/"
	if _, err := s.upload(ctx, sourcePath, prefix+SourceName, "application/x-tex"); err != nil {
		return fmt.Errorf("store source: %w", err)
	}
	size, err := s.upload(ctx, artifactPath, prefix+latex.ArtifactName(SourceName), mimePDF)
	if err != nil {
		if delErr := s.Store.Delete(context.Background(), prefix+SourceName); delErr != nil {
			telemetry.Warn("generation.source_cleanup_failed", map[string]any{"generation_id": gen.ID, "error": delErr})
		}
		return fmt.Errorf("store artifact: %w", err)
	}

	gen.SourceKey = prefix + SourceName
	gen.ArtifactKey = prefix + latex.ArtifactName(SourceName)
	gen.MimeType = info.MimeType
	gen.PageCount = info.PageCount
	gen.SizeBytes = size
	return nil
}

func (s *Service) upload(ctx context.Context, path, key, contentType string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return s.Store.SaveWithKey(ctx, key, contentType, f)
}

// acquire blocks until a compiler slot frees or ctx ends.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fail(ctx context.Context, gen Generation, err error, startedAt time.Time) Generation {
	code, detail := DescribeFailure(err)
	completedAt := s.now()
	gen.Status = StatusFailed
	gen.ErrorCode = code
	gen.ErrorDetail = detail
	gen.CompletedAt = &completedAt
	if updateErr := s.Repo.Update(context.Background(), gen); updateErr != nil {
		telemetry.Error("generation.fail_update_failed", map[string]any{
			"generation_id": gen.ID,
			"error":         updateErr,
			"cause":         err,
		})
	}

	metrics.IncGenerationFailed()
	if code == ErrorCodeCompileTimeout {
		metrics.IncGenerationTimeout()
	}
	telemetry.Info("generation.status", telemetry.Fields(s.statusFields(ctx, gen, "processing->failed"), map[string]any{
		"duration_ms": durationMs(startedAt, completedAt),
		"error_code":  code,
		"error":       err,
	}))
	return gen
}

// DescribeFailure maps a pipeline error to a stable code and a client-facing detail.
func DescribeFailure(err error) (code, detail string) {
	var compileErr *latex.CompileError
	switch {
	case err == nil:
		return ErrorCodeInternal, "Internal Server Error"
	case errors.Is(err, latex.ErrTemplateNotFound):
		return ErrorCodeTemplateMissing, "Template file not found."
	case errors.As(err, &compileErr):
		return ErrorCodeCompileFailed, "LaTeX compilation failed: " + compileErr.Diagnostic()
	case errors.Is(err, latex.ErrCompileTimeout):
		return ErrorCodeCompileTimeout, "LaTeX compilation timed out."
	case errors.Is(err, latex.ErrCompilerUnavailable):
		return ErrorCodeCompilerUnavailable, "LaTeX compiler is not available."
	case errors.Is(err, ErrArtifactMissing):
		return ErrorCodeArtifactMissing, "PDF generation failed."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeCanceled, "Request canceled."
	default:
		return ErrorCodeInternal, "Internal Server Error"
	}
}

func (s *Service) statusFields(ctx context.Context, gen Generation, transition string) map[string]any {
	return map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"generation_id":     gen.ID,
		"status":            gen.Status,
		"status_transition": transition,
		"sentence_sha256":   util.HashText(gen.Sentence),
	}
}

func durationMs(startedAt, completedAt time.Time) float64 {
	return float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
}
