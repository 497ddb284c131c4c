// Package room is the file-backed store of one room's documents: persona,
// memories, notepad, world, chat log, action plan and continuity metadata.
package room

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"hearth/app/config"

	"github.com/samber/do"
	"github.com/samber/oops"
)

var ErrInvalidName = errors.New("invalid room name")

type Store struct {
	root string

	mu    sync.Mutex
	rooms map[string]*Room
}

func New(di *do.Injector) (*Store, error) {
	cfg := do.MustInvoke[*config.Config](di)
	return NewStore(cfg.DataDir), nil
}

func NewStore(dataDir string) *Store {
	return &Store{
		root:  filepath.Join(dataDir, "rooms"),
		rooms: make(map[string]*Room),
	}
}

// Room returns the named room, creating its directory on first reference.
// The same *Room is returned for the same name so its lock is shared.
func (s *Store) Room(name string) (*Room, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[name]; ok {
		return r, nil
	}

	dir := filepath.Join(s.root, name)
	for _, sub := range []string{"", memoryDir, backupDir, archiveDir, processedDir, knowledgeDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, oops.In("room").With("room", name).Wrapf(err, "create room directory")
		}
	}

	r := &Room{name: name, dir: dir}
	s.rooms[name] = r

	return r, nil
}

// Existing returns the room only if its directory already exists.
func (s *Store) Existing(name string) (*Room, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(s.root, name)); err != nil {
		return nil, oops.In("room").With("room", name).Wrapf(err, "room not found")
	}

	return s.Room(name)
}

// List returns the names of every room on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("room").Wrapf(err, "list rooms")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "",
		name == ".", name == "..",
		strings.ContainsAny(name, `/\`),
		strings.HasPrefix(name, "."),
		strings.ContainsRune(name, 0):
		return oops.With("room", name).Wrapf(ErrInvalidName, "room name must be a single path element")
	}
	return nil
}
