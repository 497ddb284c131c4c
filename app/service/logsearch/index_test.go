package logsearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hearth/app/service/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoom(t *testing.T) *room.Room {
	t.Helper()
	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)
	return r
}

func openIndex(t *testing.T, r *room.Room) *Index {
	t.Helper()
	ix, err := OpenRoom(r)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestSearchFindsArchivedAndLiveMessages(t *testing.T) {
	r := newRoom(t)

	archived := room.Entry{Speaker: room.SpeakerUser, Name: "Bob", Text: "We planted tomatoes by the fence", Time: time.Date(2025, 3, 2, 10, 0, 0, 0, time.Local)}.Format() +
		room.Entry{Speaker: room.SpeakerAgent, Name: "Alice", Text: "The tomatoes will love the sun"}.Format()
	require.NoError(t, os.WriteFile(filepath.Join(r.ProcessedDir(), "2025-03-02.txt"), []byte(archived), 0o644))

	require.NoError(t, r.Append(
		room.Entry{Speaker: room.SpeakerUser, Text: "Remember the tomatoes?"},
		room.Entry{Speaker: room.SpeakerAgent, Text: "Of course"},
	))

	ix := openIndex(t, r)
	require.NoError(t, ix.Sync(context.Background(), r))

	hits, err := ix.Search(context.Background(), Query{Keywords: "tomato fence"})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	sources := map[string]int{}
	for _, h := range hits {
		sources[h.Source]++
	}
	assert.Equal(t, map[string]int{"2025-03-02.txt": 2, "log.txt": 1}, sources)

	hits, err = ix.Search(context.Background(), Query{Keywords: "tomato", ExcludeRecent: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "2025-03-02.txt", h.Source)
	}
}

func TestSearchShortKeywordsUseSubstringScan(t *testing.T) {
	r := newRoom(t)
	require.NoError(t, r.Append(
		room.Entry{Speaker: room.SpeakerUser, Text: "Let's go to Oz"},
		room.Entry{Speaker: room.SpeakerAgent, Text: "Sure"},
	))

	ix := openIndex(t, r)
	require.NoError(t, ix.Sync(context.Background(), r))

	hits, err := ix.Search(context.Background(), Query{Keywords: "oz"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Let's go to Oz", hits[0].Text)
	assert.Equal(t, "[log.txt] USER: Let's go to Oz", hits[0].Format())
}

func TestSyncPicksUpAppendedMessages(t *testing.T) {
	r := newRoom(t)
	require.NoError(t, r.Append(room.Entry{Speaker: room.SpeakerUser, Text: "first lighthouse visit"}))

	ix := openIndex(t, r)
	require.NoError(t, ix.Sync(context.Background(), r))
	require.NoError(t, ix.Sync(context.Background(), r))

	hits, err := ix.Search(context.Background(), Query{Keywords: "lighthouse"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	require.NoError(t, r.Append(room.Entry{Speaker: room.SpeakerUser, Text: "second lighthouse visit"}))
	// Size changes even when the modification time does not.
	require.NoError(t, ix.Sync(context.Background(), r))

	hits, err = ix.Search(context.Background(), Query{Keywords: "lighthouse"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchEmptyKeywords(t *testing.T) {
	ix := openIndex(t, newRoom(t))

	hits, err := ix.Search(context.Background(), Query{Keywords: "  \"\" "})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
