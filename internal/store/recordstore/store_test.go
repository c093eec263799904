package recordstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hemdata/listingharvester/internal/harvest"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestAppendThenIsScraped(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	endpoint := harvest.Endpoint("bostad/1337")
	require.False(t, s.IsScraped(endpoint))

	require.NoError(t, s.Append(endpoint, "2023-12-02", json.RawMessage(`{"price":100}`)))
	require.True(t, s.IsScraped(endpoint))
	require.Equal(t, 1, s.Len())
}

func TestIsScrapedSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	require.NoError(t, s.Append("bostad/1", "2023-12-01", json.RawMessage(`{"a":1}`)))
	require.NoError(t, s.Append("annons/2", "2023-12-01", json.RawMessage(`{"b":2}`)))
	require.NoError(t, s.Close())

	s2 := openStore(t, dir)
	defer s2.Close()
	require.True(t, s2.IsScraped("bostad/1"))
	require.True(t, s2.IsScraped("annons/2"))
	require.False(t, s2.IsScraped("bostad/3"))
	require.Equal(t, 2, s2.Len())
}

func TestAppendDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	require.NoError(t, s.Append("bostad/1", "2023-12-01", json.RawMessage(`{}`)))
	err := s.Append("bostad/1", "2023-12-02", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, 1, s.Len())
}

func TestReplaySkipsCorruptTail(t *testing.T) {
	dir := t.TempDir()

	s := openStore(t, dir)
	require.NoError(t, s.Append("bostad/1", "2023-12-01", json.RawMessage(`{"a":1}`)))
	require.NoError(t, s.Append("annons/2", "2023-12-01", json.RawMessage(`{"b":2}`)))
	require.NoError(t, s.Close())

	// Simulate an unclean shutdown tearing the final record.
	logPath := filepath.Join(dir, logFilename)
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"bostad/3","date":"2023-`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2 := openStore(t, dir)
	defer s2.Close()

	// Records appended before the torn one are intact; the torn record is
	// simply absent.
	require.True(t, s2.IsScraped("bostad/1"))
	require.True(t, s2.IsScraped("annons/2"))
	require.False(t, s2.IsScraped("bostad/3"))

	// A new append after recovery lands on its own line and replays cleanly.
	require.NoError(t, s2.Append("bostad/4", "2023-12-02", json.RawMessage(`{"c":4}`)))
	require.NoError(t, s2.Close())

	s3 := openStore(t, dir)
	defer s3.Close()
	require.True(t, s3.IsScraped("bostad/4"))
	require.Equal(t, 3, s3.Len())
}

func TestSecondSessionFailsFast(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	_, err := Open(dir, zap.NewNop())
	require.ErrorIs(t, err, ErrLocked)
}

func TestOpenSucceedsAfterClose(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.Close())

	s2 := openStore(t, dir)
	require.NoError(t, s2.Close())
}

func TestStaleLockIsTakenOver(t *testing.T) {
	dir := t.TempDir()

	// A pid of a process that has already exited.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	deadPid := cmd.Process.Pid

	lockPath := filepath.Join(dir, lockFilename)
	require.NoError(t, os.WriteFile(lockPath, []byte(fmt.Sprintf("%d\n", deadPid)), 0o600))

	s := openStore(t, dir)
	defer s.Close()
	require.NoError(t, s.Append("bostad/1", "2023-12-01", json.RawMessage(`{}`)))
}

func TestAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.Close())

	err := s.Append("bostad/1", "2023-12-01", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestReaderIsRestartable(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	defer s.Close()

	for i := 0; i < 3; i++ {
		endpoint := harvest.Endpoint(fmt.Sprintf("bostad/%d", i))
		require.NoError(t, s.Append(endpoint, "2023-12-01", json.RawMessage(`{"n":1}`)))
	}

	for run := 0; run < 2; run++ {
		r, err := s.NewReader()
		require.NoError(t, err)

		var got []harvest.Record
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			got = append(got, rec)
		}
		require.NoError(t, r.Close())

		require.Len(t, got, 3)
		require.Equal(t, harvest.Endpoint("bostad/0"), got[0].ID)
		require.Equal(t, "2023-12-01", got[0].Date)
		require.JSONEq(t, `{"n":1}`, string(got[0].Payload))
	}
}

func TestReaderCountsSkippedLines(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	require.NoError(t, s.Append("bostad/1", "2023-12-01", json.RawMessage(`{}`)))
	require.NoError(t, s.Close())

	logPath := filepath.Join(dir, logFilename)
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := NewReader(dir, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	count := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 1, count)
	require.Equal(t, 1, r.Skipped())
}
