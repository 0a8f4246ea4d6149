package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strings"

	"go.uber.org/zap"
)

// Header markers. The degree sign degrades differently depending on how
// the upstream re-encoded the file, so both spellings are accepted.
const (
	headerMarker         = "N° do imóvel"
	headerMarkerDegraded = "Nº do imóvel"
)

const delimiter = ';'

// NoHeaderError means the header marker was not found anywhere in the
// decoded text. SampleLines holds the first lines for diagnostics.
type NoHeaderError struct {
	SampleLines []string
}

func (e *NoHeaderError) Error() string {
	return fmt.Sprintf("feed: header marker %q not found (first lines: %s)",
		headerMarker, strings.Join(e.SampleLines, " | "))
}

// Row is one parsed feed record: trimmed column name to trimmed cell value.
type Row map[string]string

// Code returns the property business key, tolerating both header spellings.
func (r Row) Code() string {
	if v := r[headerMarker]; v != "" {
		return v
	}
	return r[headerMarkerDegraded]
}

// Document is a located, cleaned feed: the header line plus every
// candidate data line. Rows can be iterated any number of times.
type Document struct {
	header []string
	lines  []string
}

// ParseDocument scans decoded feed text for the header row and collects
// the delimited data lines that follow it.
func ParseDocument(text string) (*Document, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	headerIdx := -1
	for i, line := range lines {
		if strings.Contains(line, headerMarker) || strings.Contains(line, headerMarkerDegraded) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		sample := lines
		if len(sample) > 5 {
			sample = sample[:5]
		}
		return nil, &NoHeaderError{SampleLines: sample}
	}

	header, err := splitRecord(lines[headerIdx])
	if err != nil {
		return nil, fmt.Errorf("feed: parse header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var data []string
	for _, line := range lines[headerIdx+1:] {
		if strings.ContainsRune(line, delimiter) {
			data = append(data, line)
		}
	}

	zap.L().Debug("feed parsed",
		zap.Int("header_line", headerIdx),
		zap.Int("data_lines", len(data)),
	)
	return &Document{header: header, lines: data}, nil
}

// Len returns the number of candidate data lines.
func (d *Document) Len() int { return len(d.lines) }

// Rows returns a restartable iterator over the document's records. Lines
// that fail to parse or trim down to nothing are skipped; columns with an
// empty name are dropped.
func (d *Document) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, line := range d.lines {
			fields, err := splitRecord(line)
			if err != nil {
				zap.L().Warn("feed: skipping malformed line", zap.Error(err))
				continue
			}
			row := make(Row, len(d.header))
			for i, name := range d.header {
				if name == "" || i >= len(fields) {
					continue
				}
				row[name] = strings.TrimSpace(fields[i])
			}
			if empty(row) {
				continue
			}
			if !yield(row) {
				return
			}
		}
	}
}

// Codes returns the set of business keys present in the document.
func (d *Document) Codes() map[string]struct{} {
	codes := make(map[string]struct{})
	for row := range d.Rows() {
		if code := row.Code(); code != "" {
			codes[code] = struct{}{}
		}
	}
	return codes
}

func splitRecord(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	return fields, err
}

func empty(row Row) bool {
	for _, v := range row {
		if v != "" {
			return false
		}
	}
	return true
}
