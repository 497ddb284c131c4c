// Package vectorindex is a small file-backed similarity index over an
// embeddings.Embedder, used for episodic summaries and knowledge documents.
package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"hearth/app/util/fileutil"

	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

const (
	// IDKey is the metadata key holding a document's id.
	IDKey = "id"

	// MaxBatch is the most texts sent in one embedding request, the Gemini
	// batch-embed limit.
	MaxBatch = 100
)

type record struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector"`
}

type file struct {
	Records []record `json:"records"`
}

type Index struct {
	path     string
	embedder embeddings.Embedder

	mu      sync.Mutex
	records []record
	ids     map[string]int
}

// Open loads the index at path, or starts an empty one.
func Open(path string, embedder embeddings.Embedder) (*Index, error) {
	ix := &Index{path: path, embedder: embedder, ids: map[string]int{}}

	var f file
	if _, err := fileutil.ReadJSON(path, &f); err != nil {
		return nil, oops.In("vectorindex").With("path", path).Wrapf(err, "load index")
	}

	for _, r := range f.Records {
		ix.ids[r.ID] = len(ix.records)
		ix.records = append(ix.records, r)
	}

	return ix, nil
}

func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.records)
}

func (ix *Index) Has(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.ids[id]
	return ok
}

// Add embeds and stores the documents whose ids are not indexed yet, then
// saves the index. It returns how many documents were new.
func (ix *Index) Add(ctx context.Context, docs []schema.Document, ids []string) (int, error) {
	if len(docs) != len(ids) {
		return 0, oops.In("vectorindex").Errorf("got %d documents and %d ids", len(docs), len(ids))
	}

	var fresh []record
	seen := map[string]bool{}
	for i, doc := range docs {
		if ix.Has(ids[i]) || seen[ids[i]] {
			continue
		}
		seen[ids[i]] = true
		fresh = append(fresh, record{ID: ids[i], Text: doc.PageContent, Metadata: doc.Metadata})
	}

	if len(fresh) == 0 {
		return 0, nil
	}

	texts := make([]string, len(fresh))
	for i, r := range fresh {
		texts[i] = r.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range embeddings.BatchTexts(texts, MaxBatch) {
		embedded, err := ix.embedder.EmbedDocuments(ctx, batch)
		if err != nil {
			return 0, oops.In("vectorindex").With("batch", len(batch)).Wrapf(err, "embed documents")
		}
		vectors = append(vectors, embedded...)
	}
	if len(vectors) != len(fresh) {
		return 0, oops.In("vectorindex").Errorf("embedder returned %d vectors for %d texts", len(vectors), len(fresh))
	}

	ix.mu.Lock()
	for i := range fresh {
		fresh[i].Vector = vectors[i]
		ix.ids[fresh[i].ID] = len(ix.records)
		ix.records = append(ix.records, fresh[i])
	}
	ix.mu.Unlock()

	return len(fresh), ix.Save()
}

// Retain drops every record whose id keep rejects and saves the index when
// anything was dropped. It returns the number of dropped records.
func (ix *Index) Retain(keep func(id string) bool) (int, error) {
	ix.mu.Lock()
	kept := ix.records[:0]
	for _, r := range ix.records {
		if keep(r.ID) {
			kept = append(kept, r)
		}
	}
	dropped := len(ix.records) - len(kept)
	ix.records = kept
	ix.ids = make(map[string]int, len(kept))
	for i, r := range kept {
		ix.ids[r.ID] = i
	}
	ix.mu.Unlock()

	if dropped == 0 {
		return 0, nil
	}
	return dropped, ix.Save()
}

// Save writes the whole index through a temp file.
func (ix *Index) Save() error {
	ix.mu.Lock()
	f := file{Records: append([]record(nil), ix.records...)}
	ix.mu.Unlock()

	if f.Records == nil {
		f.Records = []record{}
	}

	if err := fileutil.WriteJSON(ix.path, f); err != nil {
		return oops.In("vectorindex").With("path", ix.path).Wrapf(err, "save index")
	}
	return nil
}

// Search returns up to k documents scoring at least minScore, best first.
func (ix *Index) Search(ctx context.Context, query string, k int, minScore float32) ([]schema.Document, error) {
	if ix.Len() == 0 {
		return nil, nil
	}

	q, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, oops.In("vectorindex").Wrapf(err, "embed query")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	type hit struct {
		idx   int
		score float32
	}

	hits := make([]hit, 0, len(ix.records))
	for i, r := range ix.records {
		score := float32(CosineSimilarity(q, r.Vector))
		if score >= minScore {
			hits = append(hits, hit{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	docs := make([]schema.Document, 0, len(hits))
	for _, h := range hits {
		r := ix.records[h.idx]
		meta := map[string]any{IDKey: r.ID}
		for key, v := range r.Metadata {
			meta[key] = v
		}
		docs = append(docs, schema.Document{PageContent: r.Text, Metadata: meta, Score: h.score})
	}

	return docs, nil
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
