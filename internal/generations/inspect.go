package generations

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

type artifactInfo struct {
	MimeType  string
	PageCount int
	SizeBytes int64
}

// inspectArtifact sniffs the artifact's content type and, for real PDFs, counts pages.
// A page count of 0 means the document could not be parsed.
func inspectArtifact(path string) (artifactInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return artifactInfo{}, err
	}
	if stat.IsDir() {
		return artifactInfo{}, fmt.Errorf("%s is a directory", path)
	}
	info := artifactInfo{SizeBytes: stat.Size()}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return artifactInfo{}, fmt.Errorf("detect mime type: %w", err)
	}
	info.MimeType = mtype.String()
	if mtype.Is(mimePDF) {
		info.PageCount = countPages(path)
	}
	return info, nil
}

func countPages(path string) (pages int) {
	defer func() {
		if recover() != nil {
			pages = 0
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return reader.NumPage()
}
