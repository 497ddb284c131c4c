// Package logsearch keeps a full-text index of a room's chat logs.
package logsearch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"hearth/app/service/room"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

const File = "log_index.db"

// Hit is one matching chat log message.
type Hit struct {
	Source  string
	Seq     int
	Speaker room.Speaker
	Name    string
	Text    string
	Time    time.Time
}

func (h Hit) Format() string {
	who := h.Name
	if who == "" {
		who = string(h.Speaker)
	}

	var b strings.Builder
	b.WriteString("[" + h.Source + "]")
	if !h.Time.IsZero() {
		b.WriteString(" " + h.Time.Format(room.TimeLayout))
	}
	b.WriteString(" " + who + ": " + h.Text)
	return b.String()
}

type Query struct {
	Keywords string
	Limit    int
	// ExcludeRecent drops this many trailing messages of the live log, the
	// ones already visible in the active context.
	ExcludeRecent int
}

type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, oops.In("logsearch").With("path", path).Wrapf(err, "open db")
	}

	ix := &Index{db: db}
	if err = ix.migrate(); err != nil {
		db.Close()
		return nil, oops.In("logsearch").With("path", path).Wrapf(err, "migrate")
	}

	return ix, nil
}

// OpenRoom opens the index stored in the room's memory directory.
func OpenRoom(r *room.Room) (*Index, error) {
	return Open(r.MemoryPath(File))
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		key      TEXT PRIMARY KEY,
		size     INTEGER NOT NULL,
		mod_time INTEGER NOT NULL,
		count    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id      INTEGER PRIMARY KEY,
		source  TEXT NOT NULL,
		seq     INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		name    TEXT,
		text    TEXT NOT NULL,
		at      TEXT,
		UNIQUE (source, seq)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
		text,
		content=messages,
		content_rowid=id,
		tokenize='trigram'
	);

	CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
		INSERT INTO messages_fts(rowid, text) VALUES (new.id, new.text);
	END;

	CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
		INSERT INTO messages_fts(messages_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END;
	`
	_, err := ix.db.Exec(schema)
	return err
}

// Sync brings the index up to date with the room's log files. Files whose
// size and modification time are unchanged are skipped.
func (ix *Index) Sync(ctx context.Context, r *room.Room) error {
	sources, err := r.LogSources()
	if err != nil {
		return err
	}

	for _, src := range sources {
		if err = ix.syncSource(ctx, src); err != nil {
			return oops.In("logsearch").With("room", r.Name(), "file", src.Key).Wrap(err)
		}
	}

	return nil
}

func (ix *Index) syncSource(ctx context.Context, src room.LogSource) error {
	size, modTime, err := stat(src.Path)
	if err != nil {
		return err
	}

	var knownSize, knownMod int64
	err = ix.db.QueryRowContext(ctx, `SELECT size, mod_time FROM sources WHERE key = ?`, src.Key).Scan(&knownSize, &knownMod)
	switch {
	case err == nil && knownSize == size && knownMod == modTime:
		return nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	entries, err := room.ReadSource(src)
	if err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE source = ?`, src.Key); err != nil {
		return fmt.Errorf("clear source: %w", err)
	}

	for i, e := range entries {
		var at *string
		if !e.Time.IsZero() {
			s := e.Time.Format(time.RFC3339)
			at = &s
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (source, seq, speaker, name, text, at) VALUES (?, ?, ?, ?, ?, ?)`,
			src.Key, i, string(e.Speaker), e.Name, e.Text, at)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources (key, size, mod_time, count) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET size = excluded.size, mod_time = excluded.mod_time, count = excluded.count`,
		src.Key, size, modTime, len(entries))
	if err != nil {
		return fmt.Errorf("record source: %w", err)
	}

	return tx.Commit()
}

// Search finds messages containing any of the keywords. Keywords of three
// or more characters go through the trigram index; shorter ones fall back
// to a substring scan.
func (ix *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	terms := keywords(q.Keywords)
	if len(terms) == 0 {
		return nil, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var liveCount int
	err := ix.db.QueryRowContext(ctx, `SELECT count FROM sources WHERE key = ?`, string(room.ChatLog)).Scan(&liveCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, oops.In("logsearch").Wrapf(err, "read live log size")
	}
	cutoff := max(liveCount-max(q.ExcludeRecent, 0), 0)

	var long, short []string
	for _, t := range terms {
		if utf8.RuneCountInString(t) >= 3 {
			long = append(long, t)
		} else {
			short = append(short, t)
		}
	}

	exclude := `NOT (m.source = ? AND m.seq >= ?)`

	var hits []Hit
	seen := map[int64]bool{}

	if len(long) > 0 {
		match := make([]string, len(long))
		for i, t := range long {
			match[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
		}

		found, err := ix.query(ctx, seen,
			`SELECT m.id, m.source, m.seq, m.speaker, m.name, m.text, m.at
			 FROM messages_fts f JOIN messages m ON m.id = f.rowid
			 WHERE messages_fts MATCH ? AND `+exclude+`
			 ORDER BY f.rank LIMIT ?`,
			strings.Join(match, " OR "), string(room.ChatLog), cutoff, limit)
		if err != nil {
			return nil, oops.In("logsearch").With("query", q.Keywords).Wrapf(err, "full-text search")
		}
		hits = append(hits, found...)
	}

	if len(short) > 0 && len(hits) < limit {
		likes := make([]string, len(short))
		args := make([]any, 0, len(short)+3)
		for i, t := range short {
			likes[i] = `m.text LIKE ?`
			args = append(args, "%"+t+"%")
		}
		args = append(args, string(room.ChatLog), cutoff, limit-len(hits))

		found, err := ix.query(ctx, seen,
			`SELECT m.id, m.source, m.seq, m.speaker, m.name, m.text, m.at
			 FROM messages m
			 WHERE (`+strings.Join(likes, " OR ")+`) AND `+exclude+`
			 ORDER BY m.id DESC LIMIT ?`,
			args...)
		if err != nil {
			return nil, oops.In("logsearch").With("query", q.Keywords).Wrapf(err, "substring search")
		}
		hits = append(hits, found...)
	}

	return hits, nil
}

func (ix *Index) query(ctx context.Context, seen map[int64]bool, query string, args ...any) ([]Hit, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			id      int64
			h       Hit
			speaker string
			name    sql.NullString
			at      sql.NullString
		)
		if err = rows.Scan(&id, &h.Source, &h.Seq, &speaker, &name, &h.Text, &at); err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		h.Speaker = room.Speaker(speaker)
		h.Name = name.String
		if at.Valid {
			h.Time, _ = time.Parse(time.RFC3339, at.String)
		}
		hits = append(hits, h)
	}

	return hits, rows.Err()
}

func keywords(s string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, t := range strings.Fields(s) {
		t = strings.Trim(t, `"'.,;:!?()[]{}`)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		terms = append(terms, t)
	}
	return terms
}

func stat(path string) (size, modTime int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, oops.In("logsearch").With("path", path).Wrapf(err, "stat log")
	}
	return info.Size(), info.ModTime().UnixNano(), nil
}
