package room

import (
	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

const settingsFile = "room_config.json"

// Settings is the per-room configuration. Fields missing from the file keep
// their defaults.
type Settings struct {
	AgentName string `json:"agent_name"`
	UserName  string `json:"user_name"`
	// AutoRetrieval enables the retrieval step before each turn.
	AutoRetrieval bool `json:"auto_retrieval"`
	// HistoryTurns is how many user turns of the live log enter the context.
	HistoryTurns      int  `json:"history_turns"`
	IncludeCoreMemory bool `json:"include_core_memory"`
	IncludeNotepad    bool `json:"include_notepad"`
	// EpisodicDays bounds episodic recall before the visible window; 0 disables it.
	EpisodicDays int  `json:"episodic_days"`
	Scenery      bool `json:"scenery"`
}

func DefaultSettings(name string) Settings {
	return Settings{
		AgentName:         name,
		UserName:          "User",
		AutoRetrieval:     true,
		HistoryTurns:      20,
		IncludeCoreMemory: true,
		IncludeNotepad:    true,
		EpisodicDays:      3,
		Scenery:           true,
	}
}

func (r *Room) Settings() (Settings, error) {
	s := DefaultSettings(r.name)
	if _, err := fileutil.ReadJSON(r.Path(settingsFile), &s); err != nil {
		return DefaultSettings(r.name), oops.In("room").With("room", r.name).Wrapf(err, "load room config")
	}
	return s, nil
}

func (r *Room) SaveSettings(s Settings) error {
	if err := fileutil.WriteJSON(r.Path(settingsFile), s); err != nil {
		return oops.In("room").With("room", r.name).Wrapf(err, "save room config")
	}
	return nil
}
