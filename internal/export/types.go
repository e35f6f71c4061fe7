// Package export renders version snapshots to downloadable PDF and DOCX
// files. PDF goes through headless Chromium, DOCX through pandoc; both
// start from the same HTML rendering of the snapshot's doc.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a request parameter onto a supported format.
func ParseFormat(input string) (Format, bool) {
	switch Format(input) {
	case FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Snapshot is the version row content being exported. The caller resolves
// the row; the export service only renders it.
type Snapshot struct {
	Kind        string
	StaticID    string
	Name        string
	Description string
	Doc         json.RawMessage
	VersionID   int64
	CreatedBy   string
	CreatedAt   time.Time
}

// Result is a finished export ready to stream to the client.
type Result struct {
	Filename    string
	ContentType string
	Data        []byte
}

var (
	// ErrPDFDependencyMissing indicates Chromium is not installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
