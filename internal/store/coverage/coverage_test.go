package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTracker(t *testing.T, dir string) *Tracker {
	t.Helper()
	tr, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	return tr
}

func TestMarkCoveredThenIsCovered(t *testing.T) {
	tr := openTracker(t, t.TempDir())
	defer tr.Close()

	require.False(t, tr.IsCovered("2023-12-02"))
	require.NoError(t, tr.MarkCovered("2023-12-02"))
	require.True(t, tr.IsCovered("2023-12-02"))
	require.Equal(t, 1, tr.Len())
}

func TestMarkCoveredIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	tr := openTracker(t, dir)

	require.NoError(t, tr.MarkCovered("2023-12-02"))
	require.NoError(t, tr.MarkCovered("2023-12-02"))
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(filepath.Join(dir, datesFilename))
	require.NoError(t, err)
	require.Equal(t, "2023-12-02\n", string(data))
}

func TestMarkCoveredRejectsInvalidDate(t *testing.T) {
	tr := openTracker(t, t.TempDir())
	defer tr.Close()

	require.Error(t, tr.MarkCovered("02/12/2023"))
	require.Error(t, tr.MarkCovered(""))
	require.Equal(t, 0, tr.Len())
}

func TestCoverageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	tr := openTracker(t, dir)
	require.NoError(t, tr.MarkCovered("2023-12-01"))
	require.NoError(t, tr.MarkCovered("2023-12-03"))
	require.NoError(t, tr.Close())

	tr2 := openTracker(t, dir)
	defer tr2.Close()
	require.True(t, tr2.IsCovered("2023-12-01"))
	require.True(t, tr2.IsCovered("2023-12-03"))
	require.False(t, tr2.IsCovered("2023-12-02"))
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, datesFilename)
	require.NoError(t, os.WriteFile(path, []byte("2023-12-01\ngarbage\n\n2023-12-02\n"), 0o600))

	tr := openTracker(t, dir)
	defer tr.Close()
	require.Equal(t, 2, tr.Len())
	require.True(t, tr.IsCovered("2023-12-01"))
	require.True(t, tr.IsCovered("2023-12-02"))
	require.False(t, tr.IsCovered("garbage"))
}

func TestMarkCoveredAfterCloseFails(t *testing.T) {
	tr := openTracker(t, t.TempDir())
	require.NoError(t, tr.Close())
	require.Error(t, tr.MarkCovered("2023-12-02"))
}
