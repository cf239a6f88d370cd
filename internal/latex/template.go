package latex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/natefinch/atomic"
)

var (
	// ErrTemplateNotFound indicates the template file does not exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrEmptyPlaceholder indicates a blank placeholder token was configured.
	ErrEmptyPlaceholder = errors.New("placeholder must not be empty")
)

// FillResult describes a filled document written to disk.
type FillResult struct {
	Path         string
	Replacements int
	SizeBytes    int
}

// Fill replaces every occurrence of placeholder in template with text.
// The text is inserted verbatim; LaTeX special characters are not escaped.
func Fill(template, placeholder, text string) (string, int) {
	if placeholder == "" {
		return template, 0
	}
	n := strings.Count(template, placeholder)
	if n == 0 {
		return template, 0
	}
	return strings.ReplaceAll(template, placeholder, text), n
}

// FillFile reads the template at templatePath, fills it and atomically writes
// the result to outputPath.
func FillFile(ctx context.Context, templatePath, outputPath, placeholder, text string) (FillResult, error) {
	if err := ctx.Err(); err != nil {
		return FillResult{}, err
	}
	if placeholder == "" {
		return FillResult{}, ErrEmptyPlaceholder
	}

	raw, err := os.ReadFile(templatePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FillResult{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templatePath)
		}
		return FillResult{}, fmt.Errorf("read template %s: %w", templatePath, err)
	}

	filled, n := Fill(string(raw), placeholder, text)
	if err := atomic.WriteFile(outputPath, bytes.NewReader([]byte(filled))); err != nil {
		return FillResult{}, fmt.Errorf("write filled document %s: %w", outputPath, err)
	}

	return FillResult{
		Path:         outputPath,
		Replacements: n,
		SizeBytes:    len(filled),
	}, nil
}
