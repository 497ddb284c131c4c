// Package retrieval decides per user turn whether past context is worth
// pulling in and fetches it from the room's knowledge base, past
// conversations and diary.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"hearth/app/client/llm"
	"hearth/app/service/memory"
	"hearth/app/service/room"

	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

// NoneToken is the classifier's answer when no retrieval is needed.
const NoneToken = "NONE"

const classifyPrompt = `You decide whether answering the latest message needs information from long-term memory
(past conversations, known facts about people, places and things, diary entries).

If the message can be answered from the recent conversation alone, respond with exactly: ` + NoneToken + `

Otherwise respond with a single line of space-separated search keywords optimized for recall:
names, topics, objects, places, and synonyms or closely related terms. Do not include conversational
words such as "remember", "talk", "said", "you", "me" or question words.

Recent conversation:
%s

Latest message:
%s`

var recollectionRe = regexp.MustCompile(`(?i)\b(remember|recall|memor(y|ies)|forg[oe]t|diary|last time|yesterday|ago|used to|before)\b`)

type Kind int

const (
	// KindSkipped means no search was attempted.
	KindSkipped Kind = iota
	// KindNotNeeded means the classifier answered NoneToken.
	KindNotNeeded
	// KindNotFound means every source came back empty.
	KindNotFound
	KindFound
)

func (k Kind) String() string {
	switch k {
	case KindNotNeeded:
		return "not_needed"
	case KindNotFound:
		return "not_found"
	case KindFound:
		return "found"
	default:
		return "skipped"
	}
}

type Result struct {
	Kind  Kind
	Query string
	Text  string
}

// Section is the text for the prompt's retrieval slot, empty when no search
// ran.
func (r Result) Section() string {
	switch r.Kind {
	case KindFound:
		return r.Text
	case KindNotFound:
		return fmt.Sprintf("Searched long-term memory for %q and found nothing relevant.", r.Query)
	default:
		return ""
	}
}

// Request is one turn's retrieval input.
type Request struct {
	Room     *room.Room
	Settings room.Settings
	// Window is the tail of the live chat log already in the prompt, ending
	// with the message being answered.
	Window []room.Entry
}

// Source is one searchable store. A result counts as a hit only when it
// contains the source's found marker.
type Source interface {
	Name() string
	FoundMarker() string
	Search(ctx context.Context, req Request, query string) (string, error)
}

type Node struct {
	caller    llm.Caller
	knowledge Source
	logs      Source
	diary     Source
}

func New(di *do.Injector) (*Node, error) {
	clients := do.MustInvoke[*llm.Clients](di)
	kb := do.MustInvoke[*memory.Service](di)

	return NewNode(clients.Caller(), KnowledgeSource{Service: kb}, LogSource{}, DiarySource{}), nil
}

func NewNode(caller llm.Caller, knowledge, logs, diary Source) *Node {
	return &Node{caller: caller, knowledge: knowledge, logs: logs, diary: diary}
}

// Retrieve runs the whole protocol for one turn. Source failures count as
// misses; only the classification call can fail the retrieval.
func (n *Node) Retrieve(ctx context.Context, req Request) (Result, error) {
	if !req.Settings.AutoRetrieval || len(req.Window) == 0 {
		return Result{Kind: KindSkipped}, nil
	}

	last := req.Window[len(req.Window)-1]
	if last.Speaker != room.SpeakerUser || strings.TrimSpace(last.Text) == "" {
		return Result{Kind: KindSkipped}, nil
	}

	query, err := n.classify(ctx, req.Window, last.Text)
	if err != nil {
		return Result{Kind: KindSkipped}, err
	}
	if query == "" {
		slog.DebugContext(ctx, "Retrieval not needed", "room", req.Room.Name())
		return Result{Kind: KindNotNeeded}, nil
	}

	var knowledge, logs string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		knowledge = n.search(gctx, n.knowledge, req, query)
		return nil
	})
	g.Go(func() error {
		logs = n.search(gctx, n.logs, req, query)
		return nil
	})
	_ = g.Wait()

	if ctx.Err() != nil {
		return Result{Kind: KindSkipped}, ctx.Err()
	}

	hits := make([]string, 0, 3)
	for _, text := range []string{knowledge, logs} {
		if text != "" {
			hits = append(hits, text)
		}
	}

	if len(hits) == 0 || recollectionRe.MatchString(last.Text) {
		if diary := n.search(ctx, n.diary, req, query); diary != "" {
			hits = append(hits, diary)
		}
	}

	slog.InfoContext(ctx, "Retrieval completed", "room", req.Room.Name(), "query", query, "hits", len(hits))

	if len(hits) == 0 {
		return Result{Kind: KindNotFound, Query: query}, nil
	}

	return Result{Kind: KindFound, Query: query, Text: strings.Join(hits, "\n\n")}, nil
}

func (n *Node) classify(ctx context.Context, window []room.Entry, message string) (string, error) {
	recent := make([]string, 0, len(window))
	for _, e := range window[:len(window)-1] {
		recent = append(recent, e.Format())
	}

	reply, err := n.caller.Text(ctx, "retrieval_classify", "", fmt.Sprintf(classifyPrompt, strings.Join(recent, ""), message), false)
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), "`\"'"))
	if strings.EqualFold(reply, NoneToken) {
		return "", nil
	}

	return strings.Join(strings.Fields(reply), " "), nil
}

// search returns the source's answer when it carries the found marker.
func (n *Node) search(ctx context.Context, src Source, req Request, query string) string {
	if src == nil {
		return ""
	}

	text, err := src.Search(ctx, req, query)
	if err != nil {
		slog.WarnContext(ctx, "Retrieval source failed", "room", req.Room.Name(), "source", src.Name(), "error", err)
		return ""
	}

	if !strings.Contains(text, src.FoundMarker()) {
		return ""
	}
	return strings.TrimSpace(text)
}
