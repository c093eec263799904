// Package recordstore implements the durable append-only ledger of
// harvested records. The on-disk log is the single source of truth; the
// in-memory endpoint index is a derived cache rebuilt by replaying the
// full log at every session open.
package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
	"github.com/hemdata/listingharvester/internal/sigdefer"
)

const (
	logFilename  = "records.ndjson"
	lockFilename = ".lock"

	replayLogEvery = 50000
)

// ErrLocked is returned by Open when another session holds the store.
var ErrLocked = errors.New("record store is locked by another session")

// ErrDuplicate is returned by Append for an endpoint already in the index.
var ErrDuplicate = errors.New("endpoint already recorded")

// Store is a scoped-write session over the record log. Open one before a
// harvest run and Close it afterwards; concurrent sessions against the
// same directory fail fast via the lock file.
type Store struct {
	dir      string
	logPath  string
	lockPath string

	mu     sync.Mutex
	file   *os.File
	index  map[harvest.Endpoint]struct{}
	crit   *sigdefer.Section
	logger *zap.Logger
}

// Option tweaks Store construction.
type Option func(*Store)

// WithCritical replaces the signal-deferred critical section, letting
// tests observe deferred-signal behavior.
func WithCritical(s *sigdefer.Section) Option {
	return func(st *Store) { st.crit = s }
}

// Open validates the directory, acquires the single-writer lock, replays
// the full log to rebuild the endpoint index, and leaves the log open for
// appending. Filesystem errors here are fatal; a malformed individual
// record is skipped with a warning.
func Open(dir string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}

	s := &Store{
		dir:      dir,
		logPath:  filepath.Join(dir, logFilename),
		lockPath: filepath.Join(dir, lockFilename),
		index:    make(map[harvest.Endpoint]struct{}),
		crit:     sigdefer.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.acquireLock(); err != nil {
		return nil, err
	}

	if err := s.replay(); err != nil {
		s.releaseLock()
		return nil, err
	}

	// O_RDWR so the tail check below can read back the final byte.
	file, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("open record log %s: %w", s.logPath, err)
	}
	if err := s.repairTail(file); err != nil {
		file.Close()
		s.releaseLock()
		return nil, err
	}
	s.file = file
	return s, nil
}

// repairTail terminates a torn final line left by an unclean shutdown, so
// the next appended record starts on its own line. The torn line itself is
// already ignored by replay.
func (s *Store) repairTail(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat record log: %w", err)
	}
	if info.Size() == 0 {
		return nil
	}
	tail := make([]byte, 1)
	if _, err := file.ReadAt(tail, info.Size()-1); err != nil {
		return fmt.Errorf("read record log tail: %w", err)
	}
	if tail[0] == '\n' {
		return nil
	}
	s.logger.Warn("record log has an unterminated tail, terminating it",
		zap.String("path", s.logPath))
	if _, err := file.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("terminate record log tail: %w", err)
	}
	return nil
}

func (s *Store) acquireLock() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); cerr != nil {
				return fmt.Errorf("close lock file: %w", cerr)
			}
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock file %s: %w", s.lockPath, err)
		}
		if attempt > 0 || !s.lockIsStale() {
			break
		}
		// The owning process is gone (unclean shutdown); take the lock over.
		s.logger.Warn("removing stale lock file", zap.String("path", s.lockPath))
		if rmErr := os.Remove(s.lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove stale lock file: %w", rmErr)
		}
	}
	return fmt.Errorf("%w (%s)", ErrLocked, s.lockPath)
}

// lockIsStale reports whether the lock's owning process no longer exists.
func (s *Store) lockIsStale() bool {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	sigErr := proc.Signal(syscall.Signal(0))
	return errors.Is(sigErr, os.ErrProcessDone) || errors.Is(sigErr, syscall.ESRCH)
}

func (s *Store) releaseLock() {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove lock file", zap.String("path", s.lockPath), zap.Error(err))
	}
}

// replay rebuilds the endpoint index from the log. The replay is the
// correctness anchor: whatever the previous run left behind, the index
// reflects exactly the records that survived.
func (s *Store) replay() error {
	r, err := NewReader(s.dir, s.logger)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer r.Close()

	loaded := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("replay record log: %w", err)
		}
		s.index[rec.ID] = struct{}{}
		loaded++
		if loaded%replayLogEvery == 0 {
			s.logger.Info("replaying record log", zap.Int("records_loaded", loaded))
		}
	}
	s.logger.Info("record log replayed",
		zap.Int("records_loaded", loaded),
		zap.Int("skipped_lines", r.Skipped()),
	)
	return nil
}

// IsScraped reports whether the endpoint already has a record. O(1)
// against the in-memory index.
func (s *Store) IsScraped(endpoint harvest.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[endpoint]
	return ok
}

// Append writes one record to the log and updates the index, as a single
// atomic critical section with termination signals deferred until the
// write returns. The record is serialized to one line and written with a
// single write call, so the log never contains a torn record from a
// cooperative shutdown.
func (s *Store) Append(endpoint harvest.Endpoint, date string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("record store session is closed")
	}
	if _, ok := s.index[endpoint]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, endpoint)
	}

	line, err := json.Marshal(harvest.Record{ID: endpoint, Date: date, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", endpoint, err)
	}
	line = append(line, '\n')

	err = s.crit.Do(func() error {
		if _, werr := s.file.Write(line); werr != nil {
			return fmt.Errorf("append record %s: %w", endpoint, werr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.index[endpoint] = struct{}{}
	return nil
}

// Len returns the number of indexed endpoints.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// NewReader returns a fresh reader over the store's log, restartable from
// the start. Intended for downstream consumers; not used on the fetch hot
// path.
func (s *Store) NewReader() (*Reader, error) {
	return NewReader(s.dir, s.logger)
}

// Close flushes the log to stable storage and releases the session lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	var errs []error
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync record log: %w", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close record log: %w", err))
	}
	s.file = nil
	s.releaseLock()
	return errors.Join(errs...)
}
