// Package episodic turns chat logs into summarized episodes, knowledge graph
// updates and a similarity index, one exchange at a time.
package episodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"hearth/app/client/llm"
	"hearth/app/service/graph"
	"hearth/app/service/progress"
	"hearth/app/service/room"
	"hearth/app/service/vectorindex"
	"hearth/app/util/shutdown"

	"github.com/oklog/ulid/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

const (
	progressFile = "progress_episodic.json"

	TrackImport = "import"
	TrackActive = "active_log"
)

var ErrNoSource = errors.New("source log not found")

const summarizePrompt = `Summarize the conversation exchange below in 3 to 5 short factual bullet points
("- " prefix). Record who said or did what, decisions, plans, feelings and new facts. Do not add
interpretation or anything that is not in the text.

%s`

// Stage is a checkpointed step of processing one pair.
type Stage int

const (
	StageNone Stage = iota
	StageSummarize
	StageGraphDeepen
	StageIndex
)

// Stages lists the stages in execution order.
var Stages = []Stage{StageSummarize, StageGraphDeepen, StageIndex}

func (s Stage) String() string {
	switch s {
	case StageSummarize:
		return "summarize"
	case StageGraphDeepen:
		return "graph_deepen"
	case StageIndex:
		return "index"
	default:
		return "none"
	}
}

type Result struct {
	Pairs       int
	Files       int
	Interrupted bool
}

type Pipeline struct {
	caller    llm.Caller
	extractor *graph.Extractor
	embedder  embeddings.Embedder
	stop      *shutdown.Flag
	now       func() time.Time
}

func New(di *do.Injector) (*Pipeline, error) {
	clients := do.MustInvoke[*llm.Clients](di)
	stop := do.MustInvoke[*shutdown.Flag](di)

	return NewPipeline(clients.Caller(), clients.Embedder, stop), nil
}

func NewPipeline(caller llm.Caller, embedder embeddings.Embedder, stop *shutdown.Flag) *Pipeline {
	return &Pipeline{
		caller:    caller,
		extractor: graph.NewExtractor(caller),
		embedder:  embedder,
		stop:      stop,
		now:       time.Now,
	}
}

// run holds what one invocation loads once and flushes on exit.
type run struct {
	room    *room.Room
	tracker *progress.Tracker
	graphs  *graph.Store
	graph   *graph.Graph
	store   *Store
	index   *vectorindex.Index
}

// pairState carries values between the stages of one pair.
type pairState struct {
	source string
	// head tells a rotated live log apart from the one it replaced.
	head string
	pair Pair
	// entry is the stored summary, empty until stage 1 ran in this process.
	entry Entry
}

func (st *pairState) docID() string {
	if st.head == "" {
		return DocID(st.source, st.pair.Index)
	}
	return DocID(st.source, st.pair.Index) + "@" + st.head
}

func (p *Pipeline) open(r *room.Room) (*run, error) {
	tracker, err := progress.Load(r.MemoryPath(progressFile))
	if err != nil {
		return nil, err
	}

	graphs := graph.StoreFor(r)
	g, err := graphs.Load()
	if err != nil {
		return nil, err
	}

	index, err := vectorindex.Open(r.MemoryPath(indexFile), p.embedder)
	if err != nil {
		return nil, err
	}

	return &run{room: r, tracker: tracker, graphs: graphs, graph: g, store: StoreFor(r), index: index}, nil
}

func (rn *run) flush() error {
	if err := rn.graphs.Save(rn.graph); err != nil {
		return err
	}
	return rn.tracker.Save()
}

// Import processes every archived log not yet imported and moves each one
// to processed/ once all its pairs are done.
func (p *Pipeline) Import(ctx context.Context, r *room.Room) (res Result, err error) {
	sources, err := r.PendingArchives()
	if err != nil {
		return res, err
	}

	rn, err := p.open(r)
	if err != nil {
		return res, err
	}

	defer func() {
		if flushErr := rn.flush(); flushErr != nil && err == nil {
			err = flushErr
		}
	}()

	for _, src := range sources {
		entries, readErr := room.ReadSource(src)
		if readErr != nil {
			return res, readErr
		}

		done, fileErr := p.processFile(ctx, rn, TrackImport, src.Key, ClosedPairs(entries), &res)
		if fileErr != nil {
			return res, fileErr
		}
		if !done {
			return res, nil
		}

		rn.tracker.Finish(TrackImport, src.Key)
		if err = rn.tracker.Save(); err != nil {
			return res, err
		}
		if err = r.MarkProcessed(src); err != nil {
			return res, err
		}
		res.Files++

		slog.InfoContext(ctx, "Archive imported", "room", r.Name(), "file", src.Key)
	}

	return res, nil
}

// Active processes the live conversation from an excerpt of it. Progress is
// kept under the live log's name so successive excerpts continue where the
// previous run stopped; an excerpt is read from its own start, and one that
// no longer begins like the checkpointed log starts over. The last pair is
// left alone while it has no reply.
func (p *Pipeline) Active(ctx context.Context, r *room.Room, excerpt string) (res Result, err error) {
	if excerpt == "" {
		excerpt = r.Path(room.ChatLog)
	}

	if _, statErr := os.Stat(excerpt); statErr != nil {
		return res, oops.In("episodic").With("excerpt", excerpt).Wrap(errors.Join(ErrNoSource, statErr))
	}

	entries, err := room.ReadSource(room.LogSource{Key: string(room.ChatLog), Path: excerpt, Live: true})
	if err != nil {
		return res, err
	}

	pairs := Pairs(entries)
	if n := len(pairs); n > 0 && pairs[n-1].Agent == "" {
		pairs = pairs[:n-1]
	}

	rn, err := p.open(r)
	if err != nil {
		return res, err
	}

	defer func() {
		if flushErr := rn.flush(); flushErr != nil && err == nil {
			err = flushErr
		}
	}()

	head := ""
	if len(entries) > 0 {
		head = progress.Fingerprint(entries[0].Format())
	}
	if rn.tracker.Rebase(TrackActive, string(room.ChatLog), head, len(pairs)) {
		slog.WarnContext(ctx, "Live log was replaced since the last run, starting it over", "room", r.Name(), "excerpt", excerpt)
	}

	_, err = p.processFile(ctx, rn, TrackActive, string(room.ChatLog), pairs, &res)
	return res, err
}

// processFile runs the remaining stages of every pair not yet completed.
// It reports whether the whole file is done.
func (p *Pipeline) processFile(ctx context.Context, rn *run, track, source string, pairs []Pair, res *Result) (bool, error) {
	rec := rn.tracker.Get(track, source)

	for i := rec.Next(); i < len(pairs); i++ {
		st := &pairState{source: source, head: rec.Head, pair: pairs[i]}

		first := StageSummarize
		if i == rec.Next() {
			first = Stage(rec.LastCompletedStage) + 1
		}

		for _, stage := range Stages {
			if stage < first {
				continue
			}

			if p.stop.Requested() {
				res.Interrupted = true
				return false, nil
			}

			if err := p.runStage(ctx, rn, st, stage); err != nil {
				return false, oops.In("episodic").
					With("room", rn.room.Name(), "file", source, "pair", i, "stage", stage.String()).
					Wrapf(err, "stage failed")
			}

			rn.tracker.CompleteStage(track, source, i, int(stage))
			if err := rn.tracker.Save(); err != nil {
				return false, err
			}

			slog.DebugContext(ctx, "Stage completed",
				"room", rn.room.Name(),
				"file", source,
				"pair", i,
				"stage", stage.String(),
			)
		}

		rn.tracker.CompleteUnit(track, source, i)
		if err := rn.tracker.Save(); err != nil {
			return false, err
		}
		res.Pairs++

		slog.InfoContext(ctx, "Pair processed", "room", rn.room.Name(), "file", source, "pair", i+1, "of", len(pairs))
	}

	return true, nil
}

func (p *Pipeline) runStage(ctx context.Context, rn *run, st *pairState, stage Stage) error {
	switch stage {
	case StageSummarize:
		return p.summarize(ctx, rn, st)
	case StageGraphDeepen:
		return p.deepen(ctx, rn, st)
	case StageIndex:
		return p.index(ctx, rn, st)
	default:
		return oops.In("episodic").Errorf("unknown stage %d", stage)
	}
}

func (p *Pipeline) summarize(ctx context.Context, rn *run, st *pairState) error {
	summary, err := p.caller.Text(ctx, "summarize_pair", "", fmt.Sprintf(summarizePrompt, st.pair.Text()), false)
	if err != nil {
		return err
	}

	date := st.pair.Time
	if date.IsZero() {
		date = p.now()
	}

	entry := Entry{
		ID:          ulid.Make().String(),
		CreatedAt:   p.now(),
		EpisodeDate: date.Format(dateLayout),
		Summary:     summary,
		SourceFile:  st.source,
		PairIndex:   st.pair.Index,
	}

	if err = rn.store.Append(entry); err != nil {
		return err
	}

	st.entry = entry
	return nil
}

func (p *Pipeline) deepen(ctx context.Context, rn *run, st *pairState) error {
	if _, err := p.extractor.Deepen(ctx, rn.graph, st.pair.Text()); err != nil {
		return err
	}
	return rn.graphs.Save(rn.graph)
}

func (p *Pipeline) index(ctx context.Context, rn *run, st *pairState) error {
	entry := st.entry

	if entry.ID == "" {
		// Stage 1 ran in an earlier process.
		found := false
		var err error
		entry, found, err = rn.store.Find(st.source, st.pair.Index)
		if err != nil {
			return err
		}
		if !found {
			return oops.In("episodic").Errorf("no summary stored for %s", DocID(st.source, st.pair.Index))
		}
	}

	_, err := rn.index.Add(ctx, []schema.Document{{
		PageContent: entry.Summary,
		Metadata: map[string]any{
			"source_file":  st.source,
			"pair_index":   st.pair.Index,
			"episode_date": entry.EpisodeDate,
		},
	}}, []string{st.docID()})

	return err
}

// Search finds episodes similar to query.
func Search(ctx context.Context, r *room.Room, embedder embeddings.Embedder, query string, k int) ([]schema.Document, error) {
	index, err := vectorindex.Open(r.MemoryPath(indexFile), embedder)
	if err != nil {
		return nil, err
	}
	return index.Search(ctx, query, k, 0.3)
}
