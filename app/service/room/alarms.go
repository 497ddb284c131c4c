package room

import (
	"sort"
	"time"

	"hearth/app/util/fileutil"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

const alarmsFile = "alarms.json"

type AlarmKind string

const (
	KindAlarm    AlarmKind = "alarm"
	KindTimer    AlarmKind = "timer"
	KindPomodoro AlarmKind = "pomodoro"
)

const (
	PhaseWork  = "work"
	PhaseBreak = "break"
)

type Alarm struct {
	ID      string    `json:"id"`
	Kind    AlarmKind `json:"kind"`
	FireAt  time.Time `json:"fire_at"`
	Message string    `json:"message"`

	// Pomodoro only.
	WorkMinutes  int    `json:"work_minutes,omitempty"`
	BreakMinutes int    `json:"break_minutes,omitempty"`
	CyclesLeft   int    `json:"cycles_left,omitempty"`
	Phase        string `json:"phase,omitempty"`
}

func (r *Room) AddAlarm(a Alarm) (Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alarms, err := r.loadAlarms()
	if err != nil {
		return Alarm{}, err
	}

	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	alarms = append(alarms, a)

	if err = r.saveAlarms(alarms); err != nil {
		return Alarm{}, err
	}

	return a, nil
}

func (r *Room) Alarms() ([]Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.loadAlarms()
}

// TakeDueAlarms removes and returns the alarms due at now. A pomodoro that
// still has cycles to run is rescheduled into its next phase instead.
func (r *Room) TakeDueAlarms(now time.Time) ([]Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	alarms, err := r.loadAlarms()
	if err != nil {
		return nil, err
	}

	var due, kept []Alarm
	for _, a := range alarms {
		if a.FireAt.After(now) {
			kept = append(kept, a)
			continue
		}

		due = append(due, a)

		if next, ok := a.nextPhase(now); ok {
			kept = append(kept, next)
		}
	}

	if len(due) == 0 {
		return nil, nil
	}

	if err = r.saveAlarms(kept); err != nil {
		return nil, err
	}

	return due, nil
}

func (a Alarm) nextPhase(now time.Time) (Alarm, bool) {
	if a.Kind != KindPomodoro {
		return Alarm{}, false
	}

	next := a
	switch a.Phase {
	case PhaseWork:
		next.Phase = PhaseBreak
		next.FireAt = now.Add(time.Duration(a.BreakMinutes) * time.Minute)
	default:
		if a.CyclesLeft <= 1 {
			return Alarm{}, false
		}
		next.CyclesLeft--
		next.Phase = PhaseWork
		next.FireAt = now.Add(time.Duration(a.WorkMinutes) * time.Minute)
	}

	return next, true
}

func (r *Room) loadAlarms() ([]Alarm, error) {
	var alarms []Alarm
	if _, err := fileutil.ReadJSON(r.Path(alarmsFile), &alarms); err != nil {
		return nil, oops.In("room").With("room", r.name).Wrapf(err, "load alarms")
	}
	return alarms, nil
}

func (r *Room) saveAlarms(alarms []Alarm) error {
	sort.Slice(alarms, func(i, j int) bool {
		return alarms[i].FireAt.Before(alarms[j].FireAt)
	})

	if alarms == nil {
		alarms = []Alarm{}
	}

	if err := fileutil.WriteJSON(r.Path(alarmsFile), alarms); err != nil {
		return oops.In("room").With("room", r.name).Wrapf(err, "save alarms")
	}
	return nil
}
