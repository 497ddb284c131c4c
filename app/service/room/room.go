package room

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

type Document string

const (
	SystemPrompt    Document = "system_prompt.txt"
	CoreMemory      Document = "core_memory.txt"
	SecretDiary     Document = "secret_diary.txt"
	Notepad         Document = "notepad.md"
	World           Document = "world.md"
	ChatLog         Document = "log.txt"
	Dreams          Document = "dreams.txt"
	CurrentLocation Document = "current_location.txt"
)

const (
	memoryDir    = "memory"
	backupDir    = "backups"
	archiveDir   = "log_archives"
	processedDir = "log_archives/processed"
	knowledgeDir = "knowledge"

	backupStamp = "20060102-150405.000"
)

type Room struct {
	name string
	dir  string

	// mu serializes read-modify-write of the room's JSON documents.
	mu sync.Mutex
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) Dir() string {
	return r.dir
}

func (r *Room) Path(doc Document) string {
	return filepath.Join(r.dir, string(doc))
}

// MemoryPath locates a file of the room's memory subsystems (graph,
// progress, episodic stores, indexes).
func (r *Room) MemoryPath(name string) string {
	return filepath.Join(r.dir, memoryDir, name)
}

func (r *Room) ArchiveDir() string {
	return filepath.Join(r.dir, archiveDir)
}

func (r *Room) ProcessedDir() string {
	return filepath.Join(r.dir, processedDir)
}

func (r *Room) KnowledgeDir() string {
	return filepath.Join(r.dir, knowledgeDir)
}

// Read returns the document's text, or "" if it does not exist yet.
func (r *Room) Read(doc Document) (string, error) {
	text, err := fileutil.ReadText(r.Path(doc))
	if err != nil {
		return "", oops.In("room").With("room", r.name, "doc", doc).Wrapf(err, "read document")
	}
	return text, nil
}

// Write replaces the whole document atomically.
func (r *Room) Write(doc Document, content string) error {
	if err := fileutil.WriteAtomic(r.Path(doc), []byte(content)); err != nil {
		return oops.In("room").With("room", r.name, "doc", doc).Wrapf(err, "write document")
	}
	return nil
}

// Backup copies the document into backups/ and returns the copy's path.
// A document that does not exist yet has nothing to back up.
func (r *Room) Backup(doc Document) (string, error) {
	src := r.Path(doc)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	dst := filepath.Join(r.dir, backupDir, string(doc)+"."+time.Now().Format(backupStamp)+".bak")
	if err := fileutil.Copy(src, dst); err != nil {
		return "", oops.In("room").With("room", r.name, "doc", doc).Wrapf(err, "backup document")
	}

	return dst, nil
}

// Location returns the current place name.
func (r *Room) Location() (string, error) {
	text, err := r.Read(CurrentLocation)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (r *Room) SetLocation(place string) error {
	return r.Write(CurrentLocation, strings.TrimSpace(place)+"\n")
}

// LatestDream returns the last blank-line separated entry of dreams.txt.
func (r *Room) LatestDream() (string, error) {
	text, err := r.Read(Dreams)
	if err != nil {
		return "", err
	}

	entries := strings.Split(strings.TrimSpace(text), "\n\n")
	return strings.TrimSpace(entries[len(entries)-1]), nil
}
