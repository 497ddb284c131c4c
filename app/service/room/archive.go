package room

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
)

// LogSource is one chat log file of the room.
type LogSource struct {
	// Key is the file name, stable across the move into processed/.
	Key  string
	Path string
	// Live marks the open chat log, which still grows.
	Live bool
}

// PendingArchives lists archived logs not yet imported into episodic memory.
func (r *Room) PendingArchives() ([]LogSource, error) {
	return listLogs(r.ArchiveDir())
}

// LogSources lists every chat log of the room: archived, processed and the
// live log last.
func (r *Room) LogSources() ([]LogSource, error) {
	pending, err := listLogs(r.ArchiveDir())
	if err != nil {
		return nil, err
	}

	processed, err := listLogs(r.ProcessedDir())
	if err != nil {
		return nil, err
	}

	sources := append(processed, pending...)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Key < sources[j].Key })

	if _, err = os.Stat(r.Path(ChatLog)); err == nil {
		sources = append(sources, LogSource{Key: string(ChatLog), Path: r.Path(ChatLog), Live: true})
	}

	return sources, nil
}

// MarkProcessed moves an archived log into processed/.
func (r *Room) MarkProcessed(src LogSource) error {
	if src.Live {
		return nil
	}

	dst := filepath.Join(r.ProcessedDir(), src.Key)
	if err := os.Rename(src.Path, dst); err != nil {
		return oops.In("room").With("room", r.name, "file", src.Key).Wrapf(err, "move archive to processed")
	}
	return nil
}

// ReadSource parses a log file.
func ReadSource(src LogSource) ([]Entry, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, oops.In("room").With("file", src.Path).Wrapf(err, "read log")
	}
	return ParseLog(string(data)), nil
}

func listLogs(dir string) ([]LogSource, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("room").With("dir", dir).Wrapf(err, "list logs")
	}

	var sources []LogSource
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		sources = append(sources, LogSource{Key: e.Name(), Path: filepath.Join(dir, e.Name())})
	}

	return sources, nil
}
