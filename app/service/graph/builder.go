package graph

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"hearth/app/client/llm"
	"hearth/app/config"
	"hearth/app/service/progress"
	"hearth/app/service/room"
	"hearth/app/util/shutdown"

	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	graphFile          = "knowledge_graph.json"
	entitiesProgress   = "progress_graph.json"
	deepenProgress     = "progress_deepen.json"
	trackEntities      = "entities"
	trackDeepen        = "deepen"
	refineSaveInterval = 10
)

const classifyPrompt = `Here is a conversation excerpt:

%s

What is the relationship from "%s" to "%s" in this excerpt? Answer with exactly one of:
%s, UNKNOWN
Answer UNKNOWN when none of them clearly applies. Output only the label.`

// StoreFor returns the graph file store of a room.
func StoreFor(r *room.Room) *Store {
	return NewStore(r.MemoryPath(graphFile))
}

// Result summarizes a batch run.
type Result struct {
	Processed int
	Skipped   int
	// Interrupted is set when the run stopped on a shutdown request.
	Interrupted bool
}

type Builder struct {
	caller     llm.Caller
	recognizer EntityRecognizer
	extractor  *Extractor
	chunkSize  int
	stop       *shutdown.Flag
}

func New(di *do.Injector) (*Builder, error) {
	cfg := do.MustInvoke[*config.Config](di)
	clients := do.MustInvoke[*llm.Clients](di)
	stop := do.MustInvoke[*shutdown.Flag](di)

	caller := clients.Caller()

	var recognizer EntityRecognizer = NewModelRecognizer(caller)
	if cfg.Graph.Recognizer == "heuristic" {
		recognizer = NewHeuristicRecognizer()
	}

	return NewBuilder(caller, recognizer, cfg.Graph.ChunkSize, stop), nil
}

func NewBuilder(caller llm.Caller, recognizer EntityRecognizer, chunkSize int, stop *shutdown.Flag) *Builder {
	return &Builder{
		caller:     caller,
		recognizer: recognizer,
		extractor:  NewExtractor(caller),
		chunkSize:  max(chunkSize, 1),
		stop:       stop,
	}
}

func (b *Builder) Extractor() *Extractor {
	return b.extractor
}

// BuildEntities is the fast pass: every pair of entities co-occurring in a
// chunk gets a provisional edge carrying that chunk.
func (b *Builder) BuildEntities(ctx context.Context, r *room.Room) (Result, error) {
	return b.eachChunk(ctx, r, entitiesProgress, trackEntities, func(ctx context.Context, g *Graph, chunk string) error {
		entities, err := b.recognizer.Entities(ctx, chunk)
		if err != nil {
			return err
		}

		for _, e := range entities {
			g.Touch(e.Name, e.Category)
		}

		for i := range entities {
			for j := i + 1; j < len(entities); j++ {
				g.AddProvisional(entities[i].Name, entities[j].Name, chunk)
			}
		}

		return nil
	})
}

// Deepen is the rich pass: normalize, substitute and extract typed facts
// for every chunk.
func (b *Builder) Deepen(ctx context.Context, r *room.Room) (Result, error) {
	return b.eachChunk(ctx, r, deepenProgress, trackDeepen, func(ctx context.Context, g *Graph, chunk string) error {
		res, err := b.extractor.Deepen(ctx, g, chunk)
		if err != nil {
			return err
		}

		slog.DebugContext(ctx, "Chunk deepened",
			"entities", res.Entities,
			"facts", res.Applied,
			"skipped_facts", res.Skipped,
		)

		return nil
	})
}

// eachChunk runs unit over every chunk not yet checkpointed. The graph and
// the progress file are saved together after each chunk and once more on
// the way out, whatever stopped the run.
func (b *Builder) eachChunk(
	ctx context.Context,
	r *room.Room,
	progressName, track string,
	unit func(ctx context.Context, g *Graph, chunk string) error,
) (res Result, err error) {
	store := StoreFor(r)

	g, err := store.Load()
	if err != nil {
		return res, err
	}

	tracker, err := progress.Load(r.MemoryPath(progressName))
	if err != nil {
		return res, err
	}

	sources, err := r.LogSources()
	if err != nil {
		return res, err
	}

	defer func() {
		if saveErr := checkpoint(store, g, tracker); saveErr != nil && err == nil {
			err = saveErr
		}
	}()

	for _, src := range sources {
		entries, readErr := room.ReadSource(src)
		if readErr != nil {
			slog.ErrorContext(ctx, "Skipping unreadable log", "room", r.Name(), "file", src.Key, "error", readErr)
			res.Skipped++
			continue
		}

		chunks := Chunk(entries, b.chunkSize)
		if src.Live && len(entries)%b.chunkSize != 0 {
			// The open log's last chunk is still filling up.
			chunks = chunks[:len(chunks)-1]
		}

		if tracker.Rebase(track, src.Key, head(entries), len(chunks)) {
			slog.WarnContext(ctx, "Log was replaced since the last run, starting it over", "room", r.Name(), "track", track, "file", src.Key)
		}

		abandoned := false
		for i := tracker.Get(track, src.Key).Next(); i < len(chunks); i++ {
			if b.stop.Requested() {
				res.Interrupted = true
				return res, nil
			}

			if unitErr := unit(ctx, g, chunks[i]); unitErr != nil {
				if llm.Classify(unitErr) == llm.ClassQuota {
					return res, oops.In("graph").With("room", r.Name(), "file", src.Key, "chunk", i).Wrapf(unitErr, "quota exhausted")
				}

				slog.ErrorContext(ctx, "Chunk failed, leaving the rest of the file for the next run",
					"room", r.Name(),
					"track", track,
					"file", src.Key,
					"chunk", i,
					"error", unitErr,
				)
				res.Skipped++
				abandoned = true
				break
			}

			tracker.CompleteUnit(track, src.Key, i)
			res.Processed++

			if err = checkpoint(store, g, tracker); err != nil {
				return res, err
			}

			slog.InfoContext(ctx, "Chunk processed",
				"room", r.Name(),
				"track", track,
				"file", src.Key,
				"chunk", i+1,
				"of", len(chunks),
			)
		}

		if !abandoned && !src.Live {
			tracker.Finish(track, src.Key)
		}
	}

	return res, nil
}

// head fingerprints the first message of a log.
func head(entries []room.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	return progress.Fingerprint(entries[0].Format())
}

// RefineRelations classifies every provisional edge not yet answered for.
// UNKNOWN and failures keep related_to; failures stay pending.
func (b *Builder) RefineRelations(ctx context.Context, r *room.Room) (res Result, err error) {
	store := StoreFor(r)

	g, err := store.Load()
	if err != nil {
		return res, err
	}

	defer func() {
		if saveErr := store.Save(g); saveErr != nil && err == nil {
			err = saveErr
		}
	}()

	var legacyChunks []string

	for _, e := range g.Pending() {
		if b.stop.Requested() {
			res.Interrupted = true
			return res, nil
		}

		chunk := e.Chunk
		if chunk == "" {
			if legacyChunks == nil {
				legacyChunks = b.allChunks(ctx, r)
			}
			chunk = findChunk(legacyChunks, e.Source, e.Target)
		}

		if chunk == "" {
			slog.WarnContext(ctx, "No chunk mentions both entities, leaving related_to",
				"room", r.Name(), "source", e.Source, "target", e.Target)
			g.SetRelation(e.Source, e.Target, Unknown)
			res.Skipped++
			continue
		}

		relation, classifyErr := b.Classify(ctx, chunk, e.Source, e.Target)
		if classifyErr != nil {
			if llm.Classify(classifyErr) == llm.ClassQuota {
				return res, oops.In("graph").With("room", r.Name()).Wrapf(classifyErr, "quota exhausted")
			}
			slog.ErrorContext(ctx, "Relation classification failed, edge stays pending",
				"room", r.Name(), "source", e.Source, "target", e.Target, "error", classifyErr)
			res.Skipped++
			continue
		}

		g.SetRelation(e.Source, e.Target, relation)
		res.Processed++

		slog.DebugContext(ctx, "Relation refined",
			"room", r.Name(), "source", e.Source, "target", e.Target, "relation", relation)

		if res.Processed%refineSaveInterval == 0 {
			if err = store.Save(g); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// Classify labels the relation from source to target with the closed
// vocabulary, or UNKNOWN.
func (b *Builder) Classify(ctx context.Context, chunk, source, target string) (string, error) {
	prompt := fmt.Sprintf(classifyPrompt, chunk, source, target, strings.Join(Relations, ", "))

	reply, err := b.caller.Text(ctx, "classify_relation", "", prompt, false)
	if err != nil {
		return "", err
	}

	return ParseRelation(reply), nil
}

// ParseRelation reads a label out of a classifier reply.
func ParseRelation(reply string) string {
	for _, word := range strings.FieldsFunc(strings.ToUpper(reply), func(r rune) bool {
		return !(r == '_' || (r >= 'A' && r <= 'Z'))
	}) {
		if slices.Contains(Relations, word) {
			return word
		}
		if word == Unknown {
			return Unknown
		}
	}
	return Unknown
}

func (b *Builder) allChunks(ctx context.Context, r *room.Room) []string {
	sources, err := r.LogSources()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list logs", "room", r.Name(), "error", err)
		return []string{}
	}

	chunks := []string{}
	for _, src := range sources {
		entries, err := room.ReadSource(src)
		if err != nil {
			continue
		}
		chunks = append(chunks, Chunk(entries, b.chunkSize)...)
	}

	return chunks
}

func checkpoint(store *Store, g *Graph, tracker *progress.Tracker) error {
	if err := store.Save(g); err != nil {
		return err
	}
	return tracker.Save()
}
