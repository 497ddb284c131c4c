// Package engine runs the agent turns of every room one at a time and fires
// due action plans and alarms as autonomous turns.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hearth/app/config"
	"hearth/app/service/agent"
	"hearth/app/service/queue"
	"hearth/app/service/room"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

// Turner runs one agent turn.
type Turner interface {
	Run(ctx context.Context, in agent.Input) (agent.Reply, error)
}

type Service struct {
	store    *room.Store
	agent    Turner
	queueSvc *queue.Service
	tick     time.Duration
	now      func() time.Time
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		do.MustInvoke[*room.Store](di),
		do.MustInvoke[*agent.Service](di),
		do.MustInvoke[*queue.Service](di),
		cfg.Engine.Tick,
	), nil
}

func NewService(store *room.Store, turner Turner, queueSvc *queue.Service, tick time.Duration) *Service {
	return &Service{
		store:    store,
		agent:    turner,
		queueSvc: queueSvc,
		tick:     tick,
		now:      time.Now,
	}
}

// Run consumes turn requests until ctx is done or the queue is closed.
// Schedules are checked on the same goroutine, so turns never overlap.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireSchedules(ctx)
		case req, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}
			s.process(ctx, req)
		}
	}
}

func (s *Service) process(ctx context.Context, req queue.Request) {
	start := time.Now()

	outcome := s.runTurn(ctx, req)
	if outcome.Err != nil {
		slog.Warn("Turn error", "room", req.Room, "error", outcome.Err)
	}

	slog.Info("Processed turn",
		"room", req.Room,
		"reason", outcome.Reply.Reason,
		"autonomous", req.Event != "",
		"duration", time.Since(start))

	if req.Reply != nil {
		select {
		case req.Reply <- outcome:
		default:
			slog.Warn("Turn reply dropped", "room", req.Room)
		}
	}
}

func (s *Service) runTurn(ctx context.Context, req queue.Request) queue.Outcome {
	r, err := s.store.Room(req.Room)
	if err != nil {
		return queue.Outcome{Err: err}
	}

	reply, err := s.agent.Run(ctx, agent.Input{Room: r, Name: req.Name, Text: req.Text, Event: req.Event})
	return queue.Outcome{Reply: reply, Err: err}
}

// fireSchedules runs an autonomous turn for every due plan and alarm.
func (s *Service) fireSchedules(ctx context.Context) {
	names, err := s.store.List()
	if err != nil {
		slog.Error("Failed to list rooms", "error", err)
		return
	}

	now := s.now()
	for _, name := range names {
		if ctx.Err() != nil {
			return
		}

		r, err := s.store.Room(name)
		if err != nil {
			slog.Error("Failed to open room", "room", name, "error", err)
			continue
		}

		for _, event := range s.dueEvents(r, now) {
			s.process(ctx, queue.Request{Room: name, Event: event})
		}
	}
}

// dueEvents takes the room's due plan and alarms and describes them.
func (s *Service) dueEvents(r *room.Room, now time.Time) []string {
	var events []string

	plan, err := r.ActivePlan()
	if err != nil {
		slog.Error("Failed to read action plan", "room", r.Name(), "error", err)
	} else if plan != nil && plan.Due(now) {
		if err = r.ClearPlan(); err != nil {
			slog.Error("Failed to clear action plan", "room", r.Name(), "error", err)
		} else {
			events = append(events, PlanEvent(*plan))
		}
	}

	alarms, err := r.TakeDueAlarms(now)
	if err != nil {
		slog.Error("Failed to take due alarms", "room", r.Name(), "error", err)
	}

	return append(events, pie.Map(alarms, AlarmEvent)...)
}

func PlanEvent(p room.ActionPlan) string {
	text := "It is time for what you planned: " + p.Intent
	if p.Emotion != "" {
		text += "\nYou felt: " + p.Emotion
	}
	if p.Description != "" {
		text += "\n" + p.Description
	}
	return text
}

func AlarmEvent(a room.Alarm) string {
	var text string

	switch a.Kind {
	case room.KindTimer:
		text = "Timer finished."
	case room.KindPomodoro:
		if a.Phase == room.PhaseWork {
			text = fmt.Sprintf("Pomodoro: work phase over, take a %d minute break.", a.BreakMinutes)
		} else if a.CyclesLeft > 1 {
			text = fmt.Sprintf("Pomodoro: break over, back to work for %d minutes.", a.WorkMinutes)
		} else {
			text = "Pomodoro: all cycles done."
		}
	default:
		text = "Alarm ringing."
	}

	if msg := strings.TrimSpace(a.Message); msg != "" {
		text += " " + msg
	}
	return text
}
