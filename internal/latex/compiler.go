package latex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultBinary  = "pdflatex"
	diagnosticTail = 4 << 10
	waitDelay      = 2 * time.Second
)

var (
	// ErrCompilerUnavailable indicates the compiler executable could not be started.
	ErrCompilerUnavailable = errors.New("latex compiler unavailable")

	// ErrCompileTimeout indicates the compiler was killed after exceeding its deadline.
	ErrCompileTimeout = errors.New("latex compilation timed out")
)

// CompileError reports a compiler run that exited non-zero.
type CompileError struct {
	ExitCode int
	Stderr   string
	Stdout   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("latex compilation failed (exit %d)", e.ExitCode)
}

// Diagnostic returns the captured stderr, or the tail of stdout when stderr is empty.
// pdflatex reports most errors on stdout.
func (e *CompileError) Diagnostic() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	return tail(strings.TrimSpace(e.Stdout), diagnosticTail)
}

// Compiler turns a source file inside dir into an artifact and returns its path.
// The artifact is not guaranteed to exist; callers check.
type Compiler interface {
	Compile(ctx context.Context, dir, sourceName string) (string, error)
}

// PDFLatex runs a pdflatex-compatible executable in non-interactive mode.
type PDFLatex struct {
	Binary  string
	Args    []string
	Timeout time.Duration
}

// NewPDFLatex returns a PDFLatex for binary with the default arguments.
func NewPDFLatex(binary string, timeout time.Duration) *PDFLatex {
	if strings.TrimSpace(binary) == "" {
		binary = defaultBinary
	}
	return &PDFLatex{
		Binary:  binary,
		Args:    []string{"-interaction=nonstopmode"},
		Timeout: timeout,
	}
}

// Compile runs the compiler with dir as working directory.
func (p *PDFLatex) Compile(ctx context.Context, dir, sourceName string) (string, error) {
	if sourceName == "" || filepath.Base(sourceName) != sourceName {
		return "", fmt.Errorf("source name %q must be a bare file name", sourceName)
	}

	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), p.Args...), sourceName)
	cmd := exec.CommandContext(runCtx, p.binary(), args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrCompileTimeout, p.Timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &CompileError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				Stdout:   stdout.String(),
			}
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %s: %v", ErrCompilerUnavailable, p.binary(), err)
		}
		return "", fmt.Errorf("run %s: %w", p.binary(), err)
	}

	return filepath.Join(dir, ArtifactName(sourceName)), nil
}

// Available reports whether the compiler binary can be resolved.
func (p *PDFLatex) Available() error {
	if _, err := exec.LookPath(p.binary()); err != nil {
		return fmt.Errorf("%w: %v", ErrCompilerUnavailable, err)
	}
	return nil
}

func (p *PDFLatex) binary() string {
	if p.Binary == "" {
		return defaultBinary
	}
	return p.Binary
}

// ArtifactName maps a source file name to the PDF the compiler writes next to it.
func ArtifactName(sourceName string) string {
	return strings.TrimSuffix(sourceName, filepath.Ext(sourceName)) + ".pdf"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
