// Package progress persists per-pipeline checkpoints so batch runs resume
// exactly where the last one stopped.
package progress

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"sync"

	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Record is the checkpoint of one work unit key (usually a log file name).
type Record struct {
	Status Status `json:"status"`
	// LastProcessedPairIndex is the last fully completed unit, -1 for none.
	LastProcessedPairIndex int `json:"last_processed_pair_index"`
	// LastCompletedStage is the last finished stage of the unit after
	// LastProcessedPairIndex, 0 for none.
	LastCompletedStage int `json:"last_completed_stage"`
	// Head fingerprints the first unit of the source the checkpoint was
	// taken on.
	Head string `json:"head,omitempty"`
}

// Fresh is the record of a key that was never processed.
func Fresh() Record {
	return Record{Status: StatusInProgress, LastProcessedPairIndex: -1}
}

// Next is the index of the unit to work on.
func (r Record) Next() int {
	return r.LastProcessedPairIndex + 1
}

// Tracker holds the checkpoints of one pipeline, grouped by track.
type Tracker struct {
	path string

	mu     sync.Mutex
	tracks map[string]map[string]Record
}

func Load(path string) (*Tracker, error) {
	t := &Tracker{path: path, tracks: map[string]map[string]Record{}}

	if _, err := fileutil.ReadJSON(path, &t.tracks); err != nil {
		return nil, oops.In("progress").Wrapf(err, "load progress")
	}
	if t.tracks == nil {
		t.tracks = map[string]map[string]Record{}
	}

	return t, nil
}

func (t *Tracker) Get(track, key string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.tracks[track][key]; ok {
		return rec
	}
	return Fresh()
}

func (t *Tracker) Set(track, key string, rec Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracks[track] == nil {
		t.tracks[track] = map[string]Record{}
	}
	t.tracks[track][key] = rec
}

// CompleteStage records that stage finished for unit index.
func (t *Tracker) CompleteStage(track, key string, index, stage int) {
	rec := t.Get(track, key)
	rec.Status = StatusInProgress
	rec.LastProcessedPairIndex = index - 1
	rec.LastCompletedStage = stage
	t.Set(track, key, rec)
}

// CompleteUnit records that unit index finished with all its stages.
func (t *Tracker) CompleteUnit(track, key string, index int) {
	rec := t.Get(track, key)
	rec.Status = StatusInProgress
	rec.LastProcessedPairIndex = index
	rec.LastCompletedStage = 0
	t.Set(track, key, rec)
}

func (t *Tracker) Finish(track, key string) {
	rec := t.Get(track, key)
	rec.Status = StatusCompleted
	rec.LastCompletedStage = 0
	t.Set(track, key, rec)
}

// Rebase checks that the checkpoint of key still belongs to a source whose
// first unit fingerprints to head and which has at least units units. A
// rotated or replaced source fails the check and its record starts over.
// It reports whether the record was reset.
func (t *Tracker) Rebase(track, key, head string, units int) bool {
	rec := t.Get(track, key)

	reset := (rec.Head != "" && rec.Head != head) || rec.Next() > units
	if reset {
		rec = Fresh()
	}
	rec.Head = head

	t.Set(track, key, rec)

	return reset
}

// Fingerprint is a short stable hash of a unit's text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := fileutil.WriteJSON(t.path, t.tracks); err != nil {
		return oops.In("progress").Wrapf(err, "save progress")
	}
	return nil
}

// Reset forgets every checkpoint and removes the file.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracks = map[string]map[string]Record{}
	if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return oops.In("progress").Wrapf(err, "reset progress")
	}
	return nil
}
