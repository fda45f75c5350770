package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ifc-inspector/inspector/internal/models"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatMsgpack:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want json or msgpack)", s)
}

// FileName is the export name for a report written at t.
func FileName(f Format, t time.Time) string {
	return fmt.Sprintf("ifc-report-%d.%s", t.UnixMilli(), f)
}

// Encode writes r in format f. JSON is indented by two spaces.
func Encode(w io.Writer, r *models.Report, f Format) error {
	if r == nil {
		r = &models.Report{}
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatMsgpack:
		return msgpack.NewEncoder(w).Encode(r)
	}
	return fmt.Errorf("unknown report format %q", f)
}

// Decode reads a report in format f.
func Decode(rd io.Reader, f Format) (*models.Report, error) {
	var r models.Report
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(rd).Decode(&r)
	case FormatMsgpack:
		err = msgpack.NewDecoder(rd).Decode(&r)
	default:
		return nil, fmt.Errorf("unknown report format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s report: %w", f, err)
	}
	return &r, nil
}

// Save writes r into dir under FileName and returns the path.
func Save(dir string, r *models.Report, f Format, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, FileName(f, now))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Encode(file, r, f); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// Load reads a report file, picking the format from its extension.
func Load(path string) (*models.Report, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r, err := Decode(file, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return r, nil
}
