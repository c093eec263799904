package recordstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
)

// maxLineBytes bounds a single serialized record. Listing payloads run to
// a few hundred KB; 16MB leaves ample headroom.
const maxLineBytes = 16 << 20

// Reader iterates the record log from the start. A malformed line (for
// example a torn tail from an unclean shutdown) is skipped with a warning
// and counted; it never aborts the iteration of subsequent valid records.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	logger  *zap.Logger
	line    int
	skipped int
}

// NewReader opens the log under dir for sequential reading. Returns an
// error wrapping os.ErrNotExist when no log has been written yet.
func NewReader(dir string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(dir, logFilename)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record log %s: %w", path, err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{file: file, scanner: scanner, logger: logger}, nil
}

// Next returns the next valid record, or io.EOF once the log is exhausted.
func (r *Reader) Next() (harvest.Record, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec harvest.Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			r.skipped++
			r.logger.Warn("skipping malformed record log line",
				zap.Int("line", r.line),
				zap.Error(err),
			)
			continue
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return harvest.Record{}, fmt.Errorf("scan record log: %w", err)
	}
	return harvest.Record{}, io.EOF
}

// Skipped returns how many malformed lines were dropped so far.
func (r *Reader) Skipped() int { return r.skipped }

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
