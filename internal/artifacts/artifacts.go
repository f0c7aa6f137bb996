// Package artifacts owns the on-disk files a transcription job produces:
// the uploaded input and the CSV and plain-text results.
package artifacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"avtranscribe/internal/models"
)

const (
	KindText = "text"
	KindCSV  = "csv"
)

var csvHeader = []string{"start", "end", "text"}

// InputPath returns where an upload is stored: <dir>/<uuid>_<basename>.
// Only the base name of the client supplied filename is kept.
func InputPath(dir, id, filename string) string {
	return filepath.Join(dir, id+"_"+filepath.Base(filename))
}

// IsStagedInput reports whether path is an input this service staged for jobID,
// i.e. <dir>/<jobID>_<name>. Only such files may be deleted after a job ends.
func IsStagedInput(dir, jobID, path string) bool {
	if dir == "" || jobID == "" || path == "" {
		return false
	}
	if filepath.Clean(filepath.Dir(path)) != filepath.Clean(dir) {
		return false
	}
	return strings.HasPrefix(filepath.Base(path), jobID+"_")
}

// CSVPath returns the segment table location for a job.
func CSVPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".csv")
}

// TextPath returns the plain transcript location for a job.
func TextPath(dir, jobID string) string {
	return filepath.Join(dir, jobID+".txt")
}

// RenderCSV writes the header row followed by one row per segment. Segment text is trimmed.
func RenderCSV(w io.Writer, segments []models.Segment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range segments {
		row := []string{
			strconv.FormatFloat(s.Start, 'f', -1, 64),
			strconv.FormatFloat(s.End, 'f', -1, 64),
			strings.TrimSpace(s.Text),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCSV reads a table produced by RenderCSV.
func ParseCSV(r io.Reader) ([]models.Segment, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("csv is empty")
	}
	if strings.Join(rows[0], ",") != strings.Join(csvHeader, ",") {
		return nil, fmt.Errorf("unexpected csv header %v", rows[0])
	}
	segments := make([]models.Segment, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != 3 {
			return nil, fmt.Errorf("row %d: expected 3 columns, got %d", i+1, len(row))
		}
		start, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d start: %w", i+1, err)
		}
		end, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d end: %w", i+1, err)
		}
		segments = append(segments, models.Segment{Start: start, End: end, Text: row[2]})
	}
	return segments, nil
}

// WriteCSV renders segments to path, replacing any previous file atomically.
func WriteCSV(path string, segments []models.Segment) error {
	return writeAtomic(path, func(w io.Writer) error { return RenderCSV(w, segments) })
}

// WriteText saves the transcript text verbatim.
func WriteText(path, text string) error {
	return writeAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, text)
		return err
	})
}

// Remove deletes path; a file that is already gone is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := fill(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
