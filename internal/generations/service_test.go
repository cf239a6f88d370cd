package generations

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"cv-backend/internal/latex"
	"cv-backend/internal/queue"
	"cv-backend/internal/shared/metrics"
	"cv-backend/internal/shared/storage/object"
)

func readArtifact(t *testing.T, env testEnv, key string) string {
	t.Helper()
	rc, err := env.store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("open artifact %s: %v", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	return string(data)
}

func TestGenerateProducesArtifactWithSentence(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	gen, err := env.svc.Generate(context.Background(), "Ingénieure logiciel, 8 ans d'expérience")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gen.Status != StatusCompleted || gen.CompletedAt == nil {
		t.Fatalf("expected completed generation, got %+v", gen)
	}
	if gen.ArtifactKey != "generations/"+gen.ID+"/generated_cv.pdf" {
		t.Fatalf("unexpected artifact key %s", gen.ArtifactKey)
	}
	if gen.MimeType != "application/pdf" {
		t.Fatalf("expected sniffed pdf mime type, got %s", gen.MimeType)
	}

	body := readArtifact(t, env, gen.ArtifactKey)
	if !strings.Contains(body, "\nIngénieure logiciel, 8 ans d'expérience\n") {
		t.Fatalf("artifact does not contain sentence:\n%s", body)
	}
	if strings.Contains(body, "{{PLACEHOLDER}}") {
		t.Fatalf("artifact still contains placeholder")
	}
	if int64(len(body)) != gen.SizeBytes {
		t.Fatalf("expected size %d, got %d", len(body), gen.SizeBytes)
	}

	source := readArtifact(t, env, gen.SourceKey)
	if !strings.HasPrefix(source, "\\documentclass") {
		t.Fatalf("unexpected stored source:\n%s", source)
	}

	stored, err := env.repo.GetByID(context.Background(), gen.ID)
	if err != nil || stored.Status != StatusCompleted {
		t.Fatalf("expected completed record, got %+v err=%v", stored, err)
	}
	if _, err := os.Stat(filepath.Join(env.workDir, gen.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected work dir removed, stat err=%v", err)
	}
}

func TestGenerateUsesIsolatedWorkDirs(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.svc.cfg.KeepWorkDirs = true

	first, err := env.svc.Generate(context.Background(), "one")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.svc.Generate(context.Background(), "two")
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("expected distinct ids")
	}
	for _, gen := range []Generation{first, second} {
		if _, err := os.Stat(filepath.Join(env.workDir, gen.ID, SourceName)); err != nil {
			t.Fatalf("expected kept source for %s: %v", gen.ID, err)
		}
	}
	if readArtifact(t, env, first.ArtifactKey) == readArtifact(t, env, second.ArtifactKey) {
		t.Fatalf("expected each generation to keep its own artifact")
	}
}

func TestGenerateMissingTemplateFails(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if err := os.Remove(env.template); err != nil {
		t.Fatalf("remove template: %v", err)
	}

	gen, err := env.svc.Generate(context.Background(), "hello")
	if !errors.Is(err, latex.ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
	if gen.Status != StatusFailed || gen.ErrorCode != ErrorCodeTemplateMissing {
		t.Fatalf("expected failed record, got %+v", gen)
	}
	if env.compiler.calls.Load() != 0 {
		t.Fatalf("compiler must not run without a template")
	}
	if _, err := env.repo.LatestCompleted(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no completed generation, got %v", err)
	}
}

func TestGenerateCompileErrorKeepsDiagnostic(t *testing.T) {
	compiler := &fakeCompiler{err: &latex.CompileError{ExitCode: 1, Stderr: "! Undefined control sequence."}}
	env := newTestEnv(t, compiler, nil)

	gen, err := env.svc.Generate(context.Background(), `\badmacro`)
	var compileErr *latex.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if gen.Status != StatusFailed || gen.ErrorCode != ErrorCodeCompileFailed {
		t.Fatalf("unexpected generation %+v", gen)
	}
	if !strings.Contains(gen.ErrorDetail, "! Undefined control sequence.") {
		t.Fatalf("expected diagnostic in detail, got %q", gen.ErrorDetail)
	}
}

func TestGenerateMissingArtifactFails(t *testing.T) {
	env := newTestEnv(t, &fakeCompiler{skipArtifact: true}, nil)

	gen, err := env.svc.Generate(context.Background(), "hello")
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("expected ErrArtifactMissing, got %v", err)
	}
	if gen.ErrorDetail != "PDF generation failed." {
		t.Fatalf("unexpected detail %q", gen.ErrorDetail)
	}
}

type pdfRejectingStore struct {
	object.ObjectStore
}

func (s pdfRejectingStore) SaveWithKey(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if strings.HasSuffix(key, ".pdf") {
		return 0, errors.New("bucket unavailable")
	}
	return s.ObjectStore.SaveWithKey(ctx, key, contentType, r)
}

func TestGenerateArtifactUploadFailureRemovesSource(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.svc.Store = pdfRejectingStore{ObjectStore: env.store}

	gen, err := env.svc.Generate(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected upload error")
	}
	if gen.Status != StatusFailed || gen.ErrorCode != ErrorCodeInternal {
		t.Fatalf("unexpected generation %+v", gen)
	}
	_, err = env.store.Open(context.Background(), "generations/"+gen.ID+"/"+SourceName)
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected source to be removed, got %v", err)
	}
}

func TestGenerateLimitsConcurrentCompiles(t *testing.T) {
	compiler := &fakeCompiler{delay: 50 * time.Millisecond}
	env := newTestEnv(t, compiler, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Generate(context.Background(), "parallel")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}

	if got := compiler.maxInFlight.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent compiles, saw %d", got)
	}
	if compiler.calls.Load() != 6 {
		t.Fatalf("expected 6 compiles, got %d", compiler.calls.Load())
	}
}

func TestGenerateCanceledWhileWaitingForSlot(t *testing.T) {
	compiler := &fakeCompiler{delay: 300 * time.Millisecond}
	env := newTestEnv(t, compiler, nil)
	env.svc.slots = make(chan struct{}, 1)
	env.svc.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	gen, err := env.svc.Generate(ctx, "hello")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if gen.ErrorCode != ErrorCodeCanceled {
		t.Fatalf("expected canceled code, got %q", gen.ErrorCode)
	}
	if compiler.calls.Load() != 0 {
		t.Fatalf("compiler must not run without a slot")
	}
}

func TestResolveLegacyNameFollowsLatestCompletion(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	if _, err := env.svc.Generate(ctx, "first input"); err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.svc.Generate(ctx, "second input")
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	rc, gen, err := env.svc.OpenArtifact(ctx, LegacyArtifactName)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if gen.ID != second.ID {
		t.Fatalf("expected latest generation %s, got %s", second.ID, gen.ID)
	}
	if !strings.Contains(string(data), "second input") || strings.Contains(string(data), "first input") {
		t.Fatalf("legacy artifact does not reflect the latest input:\n%s", data)
	}
}

func TestResolveRejectsUnknownNames(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	gen, err := env.svc.Generate(ctx, "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	cases := []string{
		"never_generated.pdf",
		"00000000-0000-0000-0000-000000000000.pdf",
		gen.ID + ".tex",
		strings.ReplaceAll(gen.ID, "-", "") + ".pdf",
		"../" + gen.ID + ".pdf",
		"..%2Fgenerated_cv.pdf",
		" " + gen.ID + ".pdf",
		"",
	}
	for _, name := range cases {
		if _, err := env.svc.Resolve(ctx, name); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for %q, got %v", name, err)
		}
	}
	if _, err := env.svc.Resolve(ctx, gen.ID+".pdf"); err != nil {
		t.Fatalf("expected own artifact to resolve: %v", err)
	}
}

func TestResolveQueuedGenerationIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil, &stubQueue{})
	ctx := context.Background()
	gen, err := env.svc.Submit(ctx, "pending")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := env.svc.Resolve(ctx, gen.ID+".pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for queued generation, got %v", err)
	}
}

func compileRuns(t *testing.T) float64 {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", metrics.Handler())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, line := range strings.Split(resp.Body.String(), "\n") {
		if value, ok := strings.CutPrefix(line, "cv_compile_duration_ms_count "); ok {
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				t.Fatalf("parse %q: %v", line, err)
			}
			return n
		}
	}
	t.Fatalf("cv_compile_duration_ms_count missing from metrics output")
	return 0
}

func TestCompileDurationObservedForEveryRun(t *testing.T) {
	failing := newTestEnv(t, &fakeCompiler{err: &latex.CompileError{ExitCode: 1}}, nil)
	before := compileRuns(t)
	if _, err := failing.svc.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected compile failure")
	}
	if got := compileRuns(t); got != before+1 {
		t.Fatalf("expected failed run observed, count %v -> %v", before, got)
	}

	missing := newTestEnv(t, nil, nil)
	if err := os.Remove(missing.template); err != nil {
		t.Fatalf("remove template: %v", err)
	}
	before = compileRuns(t)
	if _, err := missing.svc.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("expected template failure")
	}
	if got := compileRuns(t); got != before {
		t.Fatalf("expected no observation without a compiler run, count %v -> %v", before, got)
	}
}

func TestResolveLegacyNameWithoutGenerations(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if _, err := env.svc.Resolve(context.Background(), LegacyArtifactName); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitThenProcessGeneration(t *testing.T) {
	q := &stubQueue{}
	env := newTestEnv(t, nil, q)
	ctx := WithRequestID(context.Background(), "req-1")

	gen, err := env.svc.Submit(ctx, "async input")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gen.Status != StatusQueued {
		t.Fatalf("expected queued, got %s", gen.Status)
	}
	if len(q.messages) != 1 || q.messages[0].GenerationID != gen.ID || q.messages[0].RequestID != "req-1" {
		t.Fatalf("unexpected queue messages %+v", q.messages)
	}

	if err := env.svc.ProcessGeneration(context.Background(), gen.ID); err != nil {
		t.Fatalf("ProcessGeneration: %v", err)
	}
	done, err := env.svc.Get(context.Background(), gen.ID)
	if err != nil || done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %+v err=%v", done, err)
	}
	if done.RequestID != "req-1" {
		t.Fatalf("expected request id to persist, got %q", done.RequestID)
	}

	if err := env.svc.ProcessGeneration(context.Background(), gen.ID); err != nil {
		t.Fatalf("second ProcessGeneration: %v", err)
	}
	if env.compiler.calls.Load() != 1 {
		t.Fatalf("expected terminal generation to be skipped, compiles=%d", env.compiler.calls.Load())
	}
}

func TestProcessGenerationUnknownID(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if err := env.svc.ProcessGeneration(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := env.svc.ProcessGeneration(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubmitQueueFullMarksFailed(t *testing.T) {
	q := queue.NewLocalQueue(1)
	if err := q.Send(context.Background(), queue.Message{GenerationID: "occupied"}); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	env := newTestEnv(t, nil, q)

	gen, err := env.svc.Submit(context.Background(), "hello")
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	stored, err := env.repo.GetByID(context.Background(), gen.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusFailed || stored.ErrorCode != ErrorCodeEnqueueFailed {
		t.Fatalf("expected failed record, got %+v", stored)
	}
}

func TestSubmitWithoutQueue(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if _, err := env.svc.Submit(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error without queue")
	}
}

func TestDescribeFailure(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{latex.ErrCompileTimeout, ErrorCodeCompileTimeout},
		{latex.ErrCompilerUnavailable, ErrorCodeCompilerUnavailable},
		{errors.New("disk full"), ErrorCodeInternal},
		{context.Canceled, ErrorCodeCanceled},
	}
	for _, tc := range cases {
		if code, _ := DescribeFailure(tc.err); code != tc.code {
			t.Fatalf("DescribeFailure(%v) = %s, want %s", tc.err, code, tc.code)
		}
	}
}
