// package formatter exports sheet data to various formats (CSV, Markdown, plain text, snapshot JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/spf13/afero"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or its common file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, s)
	}
}

// Extension returns the file extension used for f, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatText:
		return "txt"
	default:
		return string(f)
	}
}

// Export renders sheet in format f.
func Export(sheet models.Sheet, f Format) ([]byte, error) {
	switch f {
	case FormatCSV:
		return ExportToCSV(sheet)
	case FormatMarkdown:
		return ExportToMarkdown(sheet)
	case FormatText:
		return ExportToText(sheet)
	case FormatJSON:
		return ExportToJSON([]models.Sheet{sheet})
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, f)
	}
}

// ExportToCSV converts a sheet to CSV format with columns: Platform, ID, Title, Artist, Album, Duration, File
func ExportToCSV(sheet models.Sheet) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Platform", "ID", "Title", "Artist", "Album", "Duration", "File"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range sheet.Tracks {
		record := []string{
			track.Platform(),
			track.ID(),
			track.Title,
			track.Artist,
			track.Album,
			strconv.FormatFloat(track.Duration, 'f', -1, 64),
			mediaFile(track),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a sheet to Markdown format
func ExportToMarkdown(sheet models.Sheet) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s\n\n", sheet.Title))
	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", len(sheet.Tracks)))
	if sheet.IsDefault() {
		buf.WriteString("**Default sheet**\n")
	}
	buf.WriteString("\n## Tracks\n\n")

	for i, track := range sheet.Tracks {
		albumPart := ""
		if track.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", track.Album)
		}
		buf.WriteString(fmt.Sprintf("%d. %s - %s%s [%s] `%s`\n", i+1, track.Artist, track.Title, albumPart, FormatDuration(track.Duration), track.Key()))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a sheet to plain text format
func ExportToText(sheet models.Sheet) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Title))
	buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(sheet.Tracks)))

	for i, track := range sheet.Tracks {
		buf.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, track.Artist, track.Title))
	}

	return buf.Bytes(), nil
}

// ExportToJSON renders sheets in the backup snapshot format.
func ExportToJSON(sheets []models.Sheet) ([]byte, error) {
	return (&models.Snapshot{Sheets: sheets}).Marshal()
}

// FormatDuration renders seconds as m:ss, or h:mm:ss past an hour.
func FormatDuration(seconds float64) string {
	total := int(seconds)
	if total <= 0 {
		return "0:00"
	}
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func mediaFile(track models.Track) string {
	if track.IsLocal() {
		return track.LocalPath
	}
	if track.Download != nil {
		return track.Download.Path
	}
	return ""
}

// FileName builds a file name for sheet in format f from its title, falling back to its ID.
func FileName(sheet models.Sheet, f Format) string {
	base := sheet.Title
	if strings.TrimSpace(base) == "" {
		base = sheet.ID
	}
	base = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(base)
	return fmt.Sprintf("%s_tracks.%s", base, f.Extension())
}

// WriteExport writes sheet in format f to path on fs.
//
// Defaults to [FileName] in the working directory when path is empty.
func WriteExport(fs afero.Fs, sheet models.Sheet, f Format, path string) (string, error) {
	if path == "" {
		path = FileName(sheet, f)
	}

	data, err := Export(sheet, f)
	if err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", f, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", f, err)
	}

	return path, nil
}

// ManifestEntry records the export of one sheet.
type ManifestEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Tracks int    `json:"tracks"`
	File   string `json:"file,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Manifest lists the files written by [WriteBulkExport].
type Manifest struct {
	ExportedAt time.Time       `json:"exported_at"`
	Format     Format          `json:"format"`
	Sheets     []ManifestEntry `json:"sheets"`
}

// Failed counts the sheets that could not be written.
func (m *Manifest) Failed() int {
	var n int
	for _, e := range m.Sheets {
		if e.Error != "" {
			n++
		}
	}
	return n
}

// WriteBulkExport writes every sheet to dir in format f, plus a manifest.json describing the result.
//
// A sheet that fails to write is recorded in the manifest and does not stop the others.
func WriteBulkExport(fs afero.Fs, sheets []models.Sheet, f Format, dir string) (*Manifest, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	manifest := &Manifest{ExportedAt: time.Now().UTC(), Format: f}
	for _, sheet := range sheets {
		entry := ManifestEntry{ID: sheet.ID, Title: sheet.Title, Tracks: len(sheet.Tracks)}
		path, err := WriteExport(fs, sheet, f, filepath.Join(dir, FileName(sheet, f)))
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.File = path
		}
		manifest.Sheets = append(manifest.Sheets, entry)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, "manifest.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	return manifest, nil
}

// Print writes sheet in format f to w.
func Print(w io.Writer, sheet models.Sheet, f Format) error {
	data, err := Export(sheet, f)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
