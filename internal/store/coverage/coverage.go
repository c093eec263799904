// Package coverage tracks which calendar dates have been fully crawled and
// plans which dates still need visiting. Covered dates persist in an
// append-only text file, one date per line; the set only ever grows.
package coverage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
	"github.com/hemdata/listingharvester/internal/sigdefer"
)

const datesFilename = "covered_dates.txt"

// Tracker is the persisted CoverageSet plus the gap planner over it.
// Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	dates  map[string]struct{}
	crit   *sigdefer.Section
	logger *zap.Logger
}

// Option tweaks Tracker construction.
type Option func(*Tracker)

// WithCritical replaces the signal-deferred critical section.
func WithCritical(s *sigdefer.Section) Option {
	return func(t *Tracker) { t.crit = s }
}

// Open loads the covered-dates file under dir (creating it if absent) and
// holds it open for appending.
func Open(dir string, logger *zap.Logger, opts ...Option) (*Tracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create coverage dir %s: %w", dir, err)
	}
	t := &Tracker{
		path:   filepath.Join(dir, datesFilename),
		dates:  make(map[string]struct{}),
		crit:   sigdefer.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open covered-dates file %s: %w", t.path, err)
	}
	t.file = file
	return t, nil
}

func (t *Tracker) load() error {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open covered-dates file %s: %w", t.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := time.Parse(harvest.DateLayout, line); err != nil {
			t.logger.Warn("skipping malformed covered-date line", zap.String("line", line))
			continue
		}
		t.dates[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read covered-dates file: %w", err)
	}
	return nil
}

// MarkCovered durably records the date as fully crawled. Idempotent.
func (t *Tracker) MarkCovered(date string) error {
	if _, err := time.Parse(harvest.DateLayout, date); err != nil {
		return fmt.Errorf("mark covered: invalid date %q: %w", date, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return fmt.Errorf("coverage tracker is closed")
	}
	if _, ok := t.dates[date]; ok {
		return nil
	}
	err := t.crit.Do(func() error {
		if _, werr := fmt.Fprintln(t.file, date); werr != nil {
			return fmt.Errorf("append covered date %s: %w", date, werr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.dates[date] = struct{}{}
	return nil
}

// IsCovered reports whether the date is in the coverage set.
func (t *Tracker) IsCovered(date string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.dates[date]
	return ok
}

// Len returns the coverage set size.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dates)
}

// frontier returns the earliest and latest covered dates, or ok=false for
// an empty set.
func (t *Tracker) frontier() (earliest, latest time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for d := range t.dates {
		parsed, err := time.Parse(harvest.DateLayout, d)
		if err != nil {
			continue
		}
		if !ok {
			earliest, latest, ok = parsed, parsed, true
			continue
		}
		if parsed.Before(earliest) {
			earliest = parsed
		}
		if parsed.After(latest) {
			latest = parsed
		}
	}
	return earliest, latest, ok
}

// Close flushes and releases the covered-dates file.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		return nil
	}
	if err := t.file.Sync(); err != nil {
		t.file.Close()
		t.file = nil
		return fmt.Errorf("sync covered-dates file: %w", err)
	}
	err := t.file.Close()
	t.file = nil
	if err != nil {
		return fmt.Errorf("close covered-dates file: %w", err)
	}
	return nil
}
