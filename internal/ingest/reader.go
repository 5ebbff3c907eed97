// Package ingest reads exported log files (CSV, JSON, JSONL) into records.
// Files with a .gz suffix decompress transparently.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/pkg/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type fileReader struct {
	io.Reader
	closers []io.Closer
}

func (f *fileReader) Close() error {
	var first error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open returns a reader over the file contents, decompressing .gz inputs.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
	}
	return &fileReader{Reader: gz, closers: []io.Closer{gz, f}}, nil
}

// ReadCSV loads a CSV export into records, one per data row, keyed by the
// header row. A UTF-8 byte-order mark on the header is stripped.
func ReadCSV(path string) ([]*models.Record, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	records := make([]*models.Record, 0, 1024)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %s: %w", path, err)
		}
		rec := models.NewRecord()
		for i, col := range header {
			if i < len(row) {
				rec.Set(col, row[i])
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSON loads a JSON export: either a top-level array of objects or one
// object per line. Unparseable lines in JSONL input are skipped.
func ReadJSON(path string) ([]*models.Record, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open json %s: %w", path, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read json %s: %w", path, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []map[string]interface{}
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
		records := make([]*models.Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, &models.Record{Fields: row})
		}
		return records, nil
	}

	records := make([]*models.Record, 0, 1024)
	s := bufio.NewScanner(bytes.NewReader(trimmed))
	buf := make([]byte, 0, 1024*1024)
	s.Buffer(buf, 8*1024*1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		records = append(records, &models.Record{Fields: row})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan json %s: %w", path, err)
	}
	return records, nil
}

// ParsePayload decodes an embedded JSON object field (the `message` column
// of broker and query-log exports).
func ParsePayload(raw string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
