package progress

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")

	tr, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Get("import", "a.txt").Next())

	tr.CompleteUnit("import", "a.txt", 0)
	tr.CompleteStage("import", "a.txt", 1, 2)
	require.NoError(t, tr.Save())

	tr, err = Load(path)
	require.NoError(t, err)

	rec := tr.Get("import", "a.txt")
	assert.Equal(t, Record{Status: StatusInProgress, LastProcessedPairIndex: 0, LastCompletedStage: 2}, rec)
	assert.Equal(t, 1, rec.Next())
	assert.Equal(t, Fresh(), tr.Get("active_log", "a.txt"))

	tr.Finish("import", "a.txt")
	assert.Equal(t, StatusCompleted, tr.Get("import", "a.txt").Status)

	require.NoError(t, tr.Reset())
	assert.NoFileExists(t, path)
	assert.Equal(t, Fresh(), tr.Get("import", "a.txt"))
}

func TestRebaseRestartsReplacedSources(t *testing.T) {
	tests := []struct {
		name      string
		head      string
		units     int
		wantReset bool
		wantNext  int
	}{
		{"same source grown", Fingerprint("hello"), 9, false, 4},
		{"same source unchanged", Fingerprint("hello"), 4, false, 4},
		{"rotated to a shorter log", Fingerprint("hello"), 2, true, 0},
		{"different first unit", Fingerprint("a new day"), 9, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Load(filepath.Join(t.TempDir(), "progress.json"))
			require.NoError(t, err)

			assert.False(t, tr.Rebase("active_log", "log.txt", Fingerprint("hello"), 0))
			tr.CompleteUnit("active_log", "log.txt", 3)

			assert.Equal(t, tt.wantReset, tr.Rebase("active_log", "log.txt", tt.head, tt.units))

			rec := tr.Get("active_log", "log.txt")
			assert.Equal(t, tt.wantNext, rec.Next())
			assert.Equal(t, tt.head, rec.Head)
		})
	}
}

func TestRebaseAdoptsLegacyRecords(t *testing.T) {
	tr, err := Load(filepath.Join(t.TempDir(), "progress.json"))
	require.NoError(t, err)

	tr.CompleteUnit("import", "a.txt", 5)

	assert.False(t, tr.Rebase("import", "a.txt", Fingerprint("first"), 10))
	assert.Equal(t, 6, tr.Get("import", "a.txt").Next())
	assert.Equal(t, Fingerprint("first"), tr.Get("import", "a.txt").Head)
}
