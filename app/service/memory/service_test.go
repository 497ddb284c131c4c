package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearth/app/client/llm/llmtest"
	"hearth/app/service/graph"
	"hearth/app/service/room"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T) *room.Room {
	t.Helper()

	r, err := room.NewStore(t.TempDir()).Room("alice")
	require.NoError(t, err)

	g := graph.NewGraph()
	g.Touch("Alice", "PERSON")
	g.AddAliases("Alice", []string{"Ally"})
	g.SetAttribute("Alice", "favorite_drink", "jasmine tea")
	g.UpsertRelationship(graph.Relationship{Subject: "Alice", Predicate: "LIKES", Object: "Garden", Context: "spring"})
	g.AddProvisional("Alice", "Station", "chunk")
	require.NoError(t, graph.StoreFor(r).Save(g))

	return r
}

func TestSearchNodesByAlias(t *testing.T) {
	r := seedRoom(t)
	s := NewService(&llmtest.Embedder{})

	entities, err := s.SearchNodes(r, []string{"ally", "ALICE", "nobody"})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	assert.Equal(t, "Alice", entities[0].Name)
	assert.Equal(t, "PERSON", entities[0].Category)
	assert.Equal(t, []string{"favorite_drink: jasmine tea", "Alice LIKES Garden (spring)"}, entities[0].Facts)
}

func TestSearchCombinesGraphAndDocuments(t *testing.T) {
	r := seedRoom(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.KnowledgeDir(), "garden.md"),
		[]byte("# Garden\nThe garden has roses and a small pond."), 0o644))

	embedder := &llmtest.Embedder{}
	s := NewService(embedder)

	res, err := s.Search(context.Background(), r, "Ally garden roses", 3)
	require.NoError(t, err)
	require.False(t, res.Empty())
	require.Len(t, res.Passages, 1)
	assert.Equal(t, "garden.md", res.Passages[0].Source)

	out := res.Format()
	assert.True(t, strings.HasPrefix(out, FoundMarker))
	assert.Contains(t, out, "Alice (PERSON)")
	assert.Contains(t, out, "small pond")

	calls := embedder.Calls
	_, err = s.Search(context.Background(), r, "roses", 3)
	require.NoError(t, err)
	// Only the query is embedded; the document is already indexed.
	assert.Equal(t, calls+1, embedder.Calls)
}

func TestSyncDropsChangedDocuments(t *testing.T) {
	r := seedRoom(t)
	path := filepath.Join(r.KnowledgeDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("The lighthouse is red."), 0o644))

	s := NewService(&llmtest.Embedder{})
	index, err := s.Sync(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, index.Len())

	require.NoError(t, os.WriteFile(path, []byte("The lighthouse is white."), 0o644))
	index, err = s.Sync(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, index.Len())

	require.NoError(t, os.Remove(path))
	index, err = s.Sync(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 0, index.Len())
}

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, NotFoundText, SearchResult{}.Format())
}
