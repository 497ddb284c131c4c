package room

import (
	"errors"
	"os"
	"time"

	"hearth/app/util/fileutil"

	"github.com/samber/oops"
)

const (
	planFile = "action_plan.json"

	PlanScheduled = "scheduled"
)

// ActionPlan is a future autonomous action. A room holds at most one.
type ActionPlan struct {
	Status      string    `json:"status"`
	Intent      string    `json:"intent"`
	Emotion     string    `json:"emotion"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	WakeUpTime  time.Time `json:"wake_up_time"`
}

func (p ActionPlan) Due(now time.Time) bool {
	return !p.WakeUpTime.After(now)
}

// SchedulePlan stores p as the room's only plan, discarding any previous one.
func (r *Room) SchedulePlan(p ActionPlan) (ActionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.Status = PlanScheduled
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	if err := fileutil.WriteJSON(r.planPath(), p); err != nil {
		return ActionPlan{}, oops.In("room").With("room", r.name).Wrapf(err, "save action plan")
	}

	return p, nil
}

// ActivePlan returns the scheduled plan, or nil when there is none.
func (r *Room) ActivePlan() (*ActionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p ActionPlan
	found, err := fileutil.ReadJSON(r.planPath(), &p)
	if err != nil {
		return nil, oops.In("room").With("room", r.name).Wrapf(err, "load action plan")
	}
	if !found || p.Status != PlanScheduled {
		return nil, nil
	}

	return &p, nil
}

// ClearPlan removes the plan; clearing an empty slot is not an error.
func (r *Room) ClearPlan() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.planPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return oops.In("room").With("room", r.name).Wrapf(err, "clear action plan")
	}
	return nil
}

func (r *Room) planPath() string {
	return r.Path(planFile)
}
