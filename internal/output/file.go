package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mini-rodalies-3d/segmenter/internal/trip"
)

// FileSink appends interval records to a file, one write per record on an
// O_APPEND descriptor.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if needed) path for appending
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) WriteInterval(_ context.Context, iv trip.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.file, iv.Record()); err != nil {
		return fmt.Errorf("failed to append interval %d: %w", iv.Seq, err)
	}
	return nil
}

// WriteSummary is a no-op: the file holds interval records only
func (s *FileSink) WriteSummary(context.Context, trip.Summary) error {
	return nil
}

// Close closes the underlying file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
