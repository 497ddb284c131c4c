// Package memory answers knowledge base questions for a room from its
// knowledge documents and its knowledge graph.
package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"hearth/app/client/llm"
	"hearth/app/service/graph"
	"hearth/app/service/room"
	"hearth/app/service/vectorindex"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

const (
	indexFile = "knowledge_index.json"
	minScore  = 0.35
)

type Service struct {
	embedder embeddings.Embedder
	mu       sync.Mutex
}

func New(di *do.Injector) (*Service, error) {
	return NewService(do.MustInvoke[*llm.Clients](di).Embedder), nil
}

func NewService(embedder embeddings.Embedder) *Service {
	return &Service{embedder: embedder}
}

// Sync indexes the passages of every document in the room's knowledge
// directory and forgets passages of documents that changed or went away.
func (s *Service) Sync(ctx context.Context, r *room.Room) (*vectorindex.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := vectorindex.Open(r.MemoryPath(indexFile), s.embedder)
	if err != nil {
		return nil, err
	}

	files, err := os.ReadDir(r.KnowledgeDir())
	if err != nil && !os.IsNotExist(err) {
		return nil, oops.In("memory").With("room", r.Name()).Wrapf(err, "list knowledge documents")
	}

	var docs []schema.Document
	var ids []string
	for _, f := range files {
		ext := filepath.Ext(f.Name())
		if f.IsDir() || (ext != ".md" && ext != ".txt") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.KnowledgeDir(), f.Name()))
		if err != nil {
			return nil, oops.In("memory").With("room", r.Name(), "file", f.Name()).Wrapf(err, "read knowledge document")
		}

		for i, passage := range vectorindex.Split(string(data), 0, 0) {
			sum := sha1.Sum([]byte(passage))
			docs = append(docs, schema.Document{PageContent: passage, Metadata: map[string]any{"source": f.Name()}})
			ids = append(ids, f.Name()+"#"+strconv.Itoa(i)+"#"+hex.EncodeToString(sum[:6]))
		}
	}

	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	if _, err = index.Retain(func(id string) bool { return wanted[id] }); err != nil {
		return nil, err
	}

	added, err := index.Add(ctx, docs, ids)
	if err != nil {
		return nil, err
	}
	if added > 0 {
		slog.InfoContext(ctx, "Knowledge documents indexed", "room", r.Name(), "passages", added)
	}

	return index, nil
}

// SearchNodes looks names up in the room's knowledge graph, by id or alias.
func (s *Service) SearchNodes(r *room.Room, names []string) ([]*Entity, error) {
	g, err := graph.StoreFor(r).Load()
	if err != nil {
		return nil, err
	}

	result := make([]*Entity, 0)
	seen := map[string]bool{}

	for _, name := range names {
		id, ok := g.Resolve(name)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		node, _ := g.Node(id)
		entity := &Entity{Name: node.ID, Category: node.Category}

		for _, key := range pie.Sort(pie.Keys(node.Attributes)) {
			entity.Facts = append(entity.Facts, key+": "+node.Attributes[key])
		}

		for _, e := range g.Edges() {
			if e.Provisional() || (e.Source != id && e.Target != id) {
				continue
			}
			fact := e.Source + " " + e.Relation + " " + e.Target
			if e.Context != "" {
				fact += " (" + e.Context + ")"
			}
			entity.Facts = append(entity.Facts, fact)
		}

		result = append(result, entity)
	}

	slog.Info("Search completed",
		"room", r.Name(),
		"names", names,
		"entities_count", len(result),
	)

	return result, nil
}

// Search combines graph lookups of the query words with the closest
// knowledge document passages.
func (s *Service) Search(ctx context.Context, r *room.Room, query string, k int) (SearchResult, error) {
	var res SearchResult

	query = strings.TrimSpace(query)
	if query == "" {
		return res, nil
	}

	names := append([]string{query}, strings.Fields(query)...)
	entities, err := s.SearchNodes(r, names)
	if err != nil {
		return res, err
	}
	res.Entities = entities

	index, err := s.Sync(ctx, r)
	if err != nil {
		return res, err
	}

	docs, err := index.Search(ctx, query, k, minScore)
	if err != nil {
		return res, err
	}

	for _, d := range docs {
		source, _ := d.Metadata["source"].(string)
		res.Passages = append(res.Passages, Passage{Source: source, Text: d.PageContent, Score: d.Score})
	}

	return res, nil
}
