// Package lyrics loads song lyrics from local files for prompt building.
//
// The UI layer usually supplies lyrics straight from the scraper, but users
// can also point the backend at a plain-text file or a PDF chord sheet. The
// loader normalizes whatever it reads into blank-line separated paragraphs,
// the shape the prompt excerpt selector expects.
package lyrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoContent is returned when a file yields no usable lyrics text.
var ErrNoContent = errors.New("lyrics: no text content found")

// maxFileSize bounds lyrics input files. Lyrics are small; anything larger
// is almost certainly not a lyrics file.
const maxFileSize = 5 << 20 // 5 MB

var collapseBlankLines = regexp.MustCompile(`\n{3,}`)

// LoadFile reads lyrics from path. ".pdf" files are parsed with the pdf
// library; everything else is treated as plain text. The returned text uses
// "\n" line endings with runs of blank lines collapsed to a single paragraph
// break.
func LoadFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("lyrics: path cannot be empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("lyrics: cannot stat %s: %w", path, err)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("lyrics: %s is too large for a lyrics file (%d bytes)", path, info.Size())
	}

	var text string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err = extractPDFText(path)
	} else {
		text, err = readPlainText(path)
	}
	if err != nil {
		return "", err
	}

	normalized := Normalize(text)
	if normalized == "" {
		return "", ErrNoContent
	}
	return normalized, nil
}

// Normalize converts line endings to "\n", trims trailing whitespace per
// line, and collapses runs of blank lines into single paragraph breaks.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")

	text = collapseBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// readPlainText reads a text file as-is.
func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("lyrics: failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// extractPDFText pulls the plain text out of every page of a PDF chord
// sheet. Pages that fail to decode are skipped; the result is the surviving
// pages joined by paragraph breaks.
func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("lyrics: failed to open PDF %s: %w", path, err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}

	if len(pages) == 0 {
		return "", ErrNoContent
	}
	return strings.Join(pages, "\n\n"), nil
}
