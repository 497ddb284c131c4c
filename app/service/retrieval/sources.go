package retrieval

import (
	"context"
	"strings"
	"unicode/utf8"

	"hearth/app/service/logsearch"
	"hearth/app/service/memory"
	"hearth/app/service/room"
)

const (
	LogsFoundMarker  = "Past conversations:"
	LogsNotFound     = "No past conversations matched."
	DiaryFoundMarker = "Diary entries:"
	DiaryNotFound    = "No diary entries matched."

	knowledgeLimit = 4
	logsLimit      = 8
	diaryLimit     = 8
)

// KnowledgeSource searches knowledge documents and the knowledge graph.
type KnowledgeSource struct {
	Service *memory.Service
}

func (KnowledgeSource) Name() string        { return "knowledge_base" }
func (KnowledgeSource) FoundMarker() string { return memory.FoundMarker }

func (s KnowledgeSource) Search(ctx context.Context, req Request, query string) (string, error) {
	res, err := s.Service.Search(ctx, req.Room, query, knowledgeLimit)
	if err != nil {
		return "", err
	}
	return res.Format(), nil
}

// LogSource searches every chat log of the room, leaving out the messages
// of the request's window.
type LogSource struct{}

func (LogSource) Name() string        { return "past_conversations" }
func (LogSource) FoundMarker() string { return LogsFoundMarker }

func (LogSource) Search(ctx context.Context, req Request, query string) (string, error) {
	ix, err := logsearch.OpenRoom(req.Room)
	if err != nil {
		return "", err
	}
	defer ix.Close()

	if err = ix.Sync(ctx, req.Room); err != nil {
		return "", err
	}

	hits, err := ix.Search(ctx, logsearch.Query{Keywords: query, Limit: logsLimit, ExcludeRecent: len(req.Window)})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return LogsNotFound, nil
	}

	var b strings.Builder
	b.WriteString(LogsFoundMarker + "\n")
	for _, h := range hits {
		b.WriteString(h.Format() + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// DiarySource scans the secret diary and core memory for paragraphs
// mentioning any keyword.
type DiarySource struct{}

func (DiarySource) Name() string        { return "diary" }
func (DiarySource) FoundMarker() string { return DiaryFoundMarker }

func (DiarySource) Search(_ context.Context, req Request, query string) (string, error) {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(t) >= 2 {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return DiaryNotFound, nil
	}

	var found []string
	for _, doc := range []room.Document{room.SecretDiary, room.CoreMemory} {
		text, err := req.Room.Read(doc)
		if err != nil {
			return "", err
		}

		for _, para := range strings.Split(text, "\n\n") {
			para = strings.TrimSpace(para)
			lower := strings.ToLower(para)
			for _, t := range terms {
				if para != "" && strings.Contains(lower, t) {
					found = append(found, "["+string(doc)+"] "+para)
					break
				}
			}
		}
	}

	if len(found) > diaryLimit {
		found = found[:diaryLimit]
	}
	if len(found) == 0 {
		return DiaryNotFound, nil
	}
	return DiaryFoundMarker + "\n" + strings.Join(found, "\n"), nil
}
