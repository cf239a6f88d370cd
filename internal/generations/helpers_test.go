package generations

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cv-backend/internal/latex"
	"cv-backend/internal/queue"
	"cv-backend/internal/shared/storage/object/local"
)

const testTemplate = "\\documentclass{article}\n\\begin{document}\n{{PLACEHOLDER}}\n\\end{document}\n"

// fakeCompiler stands in for pdflatex: it copies the filled source into a PDF-looking artifact.
type fakeCompiler struct {
	err          error
	skipArtifact bool
	delay        time.Duration

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
	dirs        []string
}

func (f *fakeCompiler) Compile(ctx context.Context, dir, sourceName string) (string, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if current <= seen || f.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	artifact := filepath.Join(dir, latex.ArtifactName(sourceName))
	if f.skipArtifact {
		return artifact, nil
	}
	src, err := os.ReadFile(filepath.Join(dir, sourceName))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(artifact, append([]byte("%PDF-1.4\n"), src...), 0o644); err != nil {
		return "", err
	}
	return artifact, nil
}

type testEnv struct {
	svc      *Service
	repo     *MemoryRepo
	store    *local.Store
	compiler *fakeCompiler
	template string
	workDir  string
}

func newTestEnv(t *testing.T, compiler *fakeCompiler, q queue.Client) testEnv {
	t.Helper()
	root := t.TempDir()
	templatePath := filepath.Join(root, "template.tex")
	if err := os.WriteFile(templatePath, []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	workDir := filepath.Join(root, "work")
	repo := NewMemoryRepo()
	store := local.New(filepath.Join(root, "store"))
	if compiler == nil {
		compiler = &fakeCompiler{}
	}
	svc := NewService(repo, store, compiler, q, Config{
		TemplatePath:          templatePath,
		Placeholder:           "{{PLACEHOLDER}}",
		WorkDir:               workDir,
		MaxConcurrentCompiles: 2,
	})
	return testEnv{svc: svc, repo: repo, store: store, compiler: compiler, template: templatePath, workDir: workDir}
}

type stubQueue struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (s *stubQueue) Send(ctx context.Context, msg queue.Message) error {
	_ = ctx
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}
