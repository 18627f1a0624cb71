package api

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/draa-ai/draa/internal/core"
)

// ExtractText pulls UTF-8 text out of an uploaded document. Plain text is
// handled here; PDF and Word extraction happens upstream of the upload, so
// other extensions are rejected. Whitespace-only content is an
// empty-document failure, not a silent no-op.
func ExtractText(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".txt" {
		return "", fmt.Errorf("unsupported file type %q: upload extracted .txt text", ext)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", filename, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text", filename)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s", core.ErrEmptyDocument, filename)
	}
	return text, nil
}
