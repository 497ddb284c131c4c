package room

import (
	"time"

	"hearth/app/client/llm"
	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

const continuityFile = "thought_continuity.json"

// Continuity carries the provider continuation token of the last turn so
// the next turn can re-attach it to the reconstructed history.
type Continuity struct {
	LastSignature []byte         `json:"last_signature,omitempty"`
	LastToolCalls []llm.ToolCall `json:"last_tool_calls,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (r *Room) Continuity() (Continuity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c Continuity
	if _, err := fileutil.ReadJSON(r.Path(continuityFile), &c); err != nil {
		return Continuity{}, oops.In("room").With("room", r.name).Wrapf(err, "load thought continuity")
	}
	return c, nil
}

// SaveContinuity overwrites the single continuity slot.
func (r *Room) SaveContinuity(c Continuity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	if err := fileutil.WriteJSON(r.Path(continuityFile), c); err != nil {
		return oops.In("room").With("room", r.name).Wrapf(err, "save thought continuity")
	}
	return nil
}
