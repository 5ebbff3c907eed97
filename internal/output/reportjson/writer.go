// Package reportjson writes correlation outputs as JSON lines files, one
// file per table.
package reportjson

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/Yunjiggle/DaaS-Cloud-Tool/internal/logger"
)

// Writer outputs one report table to a JSON lines file.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter creates a JSONL writer, creating parent directories as needed.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logger.Infof("Report JSON writer initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// WriteRows encodes a batch of rows, one JSON object per line. Rows may be
// sessions, activities, timeline entries or any other report record.
func WriteRows[T any](w *Writer, rows []T) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range rows {
		if err := w.encoder.Encode(rows[i]); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	return nil
}

// WriteValue encodes a single value, such as a summary document.
func (w *Writer) WriteValue(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// WriteTable is a convenience that opens, writes and closes in one call.
func WriteTable[T any](path string, rows []T) error {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	if err := WriteRows(w, rows); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
