package episodic

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"hearth/app/service/room"

	"github.com/samber/oops"
)

const (
	midtermFile   = "episodic_midterm.jsonl"
	shorttermFile = "episodic_shortterm.txt"
	indexFile     = "episodic_index.json"

	dateLayout = "2006-01-02"
)

// Entry is one summarized exchange. Entries are only ever appended.
type Entry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	EpisodeDate string    `json:"episode_date,omitempty"`
	Summary     string    `json:"summary"`
	SourceFile  string    `json:"source_file"`
	PairIndex   int       `json:"pair_index"`
}

// DocID identifies the entry's exchange in the similarity index.
func (e Entry) DocID() string {
	return DocID(e.SourceFile, e.PairIndex)
}

func DocID(source string, pair int) string {
	return source + "#" + strconv.Itoa(pair)
}

// Store is the mid-term JSON lines file plus the short-term text log.
type Store struct {
	midterm   string
	shortterm string
	mu        sync.Mutex
}

func StoreFor(r *room.Room) *Store {
	return &Store{
		midterm:   r.MemoryPath(midtermFile),
		shortterm: r.MemoryPath(shorttermFile),
	}
}

func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return oops.In("episodic").Wrapf(err, "marshal entry")
	}

	if err = appendFile(s.midterm, append(line, '\n')); err != nil {
		return err
	}

	header := "### " + e.EpisodeDate + " (" + e.SourceFile + " #" + strconv.Itoa(e.PairIndex) + ")\n"
	return appendFile(s.shortterm, []byte(header+strings.TrimSpace(e.Summary)+"\n\n"))
}

// All reads every entry; malformed lines are skipped.
func (s *Store) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.midterm)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("episodic").Wrapf(err, "open mid-term store")
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if json.Unmarshal([]byte(line), &e) == nil {
			entries = append(entries, e)
		}
	}

	if err = scanner.Err(); err != nil {
		return nil, oops.In("episodic").Wrapf(err, "read mid-term store")
	}

	return entries, nil
}

// Find returns the latest entry for the exchange, if any.
func (s *Store) Find(source string, pair int) (Entry, bool, error) {
	entries, err := s.All()
	if err != nil {
		return Entry{}, false, err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].SourceFile == source && entries[i].PairIndex == pair {
			return entries[i], true, nil
		}
	}

	return Entry{}, false, nil
}

// Recall returns the entries dated within days before the given time,
// oldest first.
func (s *Store) Recall(before time.Time, days int) ([]Entry, error) {
	if days <= 0 || before.IsZero() {
		return nil, nil
	}

	entries, err := s.All()
	if err != nil {
		return nil, err
	}

	from := before.AddDate(0, 0, -days).Format(dateLayout)
	until := before.Format(dateLayout)

	var out []Entry
	for _, e := range entries {
		if e.EpisodeDate >= from && e.EpisodeDate < until {
			out = append(out, e)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].EpisodeDate < out[j].EpisodeDate })

	return out, nil
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return oops.In("episodic").With("path", path).Wrapf(err, "open for append")
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return oops.In("episodic").With("path", path).Wrapf(err, "append")
	}
	return f.Sync()
}
