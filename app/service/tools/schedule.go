package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hearth/app/client/llm"
	"hearth/app/service/room"

	"github.com/samber/oops"
)

const (
	dateTimeLayout = "2006-01-02 15:04"
	clockLayout    = "15:04"
)

type scheduleArgs struct {
	Intent      string `json:"intent" validate:"required"`
	Emotion     string `json:"emotion"`
	Description string `json:"description"`
	WakeUpTime  string `json:"wake_up_time" validate:"required_without=InMinutes"`
	InMinutes   int    `json:"in_minutes" validate:"gte=0"`
}

type alarmArgs struct {
	Time    string `json:"time" validate:"required"`
	Message string `json:"message"`
}

type timerArgs struct {
	Minutes      int    `json:"minutes" validate:"required_unless=Pomodoro true,gte=0,lte=1440"`
	Message      string `json:"message"`
	Pomodoro     bool   `json:"pomodoro"`
	WorkMinutes  int    `json:"work_minutes" validate:"gte=0,lte=240"`
	BreakMinutes int    `json:"break_minutes" validate:"gte=0,lte=120"`
	Cycles       int    `json:"cycles" validate:"gte=0,lte=12"`
}

func (r *Registry) scheduleTools() []Tool {
	return []Tool{
		&roomTool{
			name:        "schedule_action",
			description: "Plan something you will do later on your own. Replaces any earlier plan.",
			params: []llm.Param{
				{Name: "intent", Type: "string", Description: "What you will do", Required: true},
				{Name: "emotion", Type: "string", Description: "How you feel about it"},
				{Name: "description", Type: "string", Description: "Details to remember when the time comes"},
				{Name: "wake_up_time", Type: "string", Description: "When, as YYYY-MM-DD HH:MM or HH:MM"},
				{Name: "in_minutes", Type: "integer", Description: "When, in minutes from now"},
			},
			call: r.scheduleAction,
		},
		&roomTool{
			name:        "cancel_action",
			description: "Cancel the planned action.",
			call:        cancelAction,
		},
		&roomTool{
			name:        "get_action_plan",
			description: "Show the planned action, if any.",
			call:        getActionPlan,
		},
		&roomTool{
			name:        "set_alarm",
			description: "Set an alarm that wakes you up with a system message.",
			params: []llm.Param{
				{Name: "time", Type: "string", Description: "YYYY-MM-DD HH:MM or HH:MM (next occurrence)", Required: true},
				{Name: "message", Type: "string", Description: "What the alarm is for"},
			},
			call: r.setAlarm,
		},
		&roomTool{
			name:        "set_timer",
			description: "Start a timer, or a pomodoro cycle of work and break phases.",
			params: []llm.Param{
				{Name: "minutes", Type: "integer", Description: "Timer length; not used for pomodoro"},
				{Name: "message", Type: "string", Description: "What the timer is for"},
				{Name: "pomodoro", Type: "boolean", Description: "Run work/break cycles instead of a single timer"},
				{Name: "work_minutes", Type: "integer", Description: "Pomodoro work phase, default 25"},
				{Name: "break_minutes", Type: "integer", Description: "Pomodoro break phase, default 5"},
				{Name: "cycles", Type: "integer", Description: "Pomodoro cycles, default 4"},
			},
			call: r.setTimer,
		},
	}
}

// parseWhen reads an absolute time, or a clock time meaning its next
// occurrence after now.
func parseWhen(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)

	if t, err := time.ParseInLocation(dateTimeLayout, value, now.Location()); err == nil {
		return t, nil
	}

	clock, err := time.ParseInLocation(clockLayout, value, now.Location())
	if err != nil {
		return time.Time{}, oops.With("value", value).Errorf("time must be YYYY-MM-DD HH:MM or HH:MM")
	}

	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

func (r *Registry) scheduleAction(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args scheduleArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	now := r.now()
	wake := now.Add(time.Duration(args.InMinutes) * time.Minute)
	if args.WakeUpTime != "" {
		if wake, err = parseWhen(args.WakeUpTime, now); err != nil {
			return "", err
		}
	}
	if !wake.After(now) {
		return "", oops.With("wake_up_time", wake).Errorf("wake-up time must be in the future")
	}

	plan, err := s.Room.SchedulePlan(room.ActionPlan{
		Intent:      strings.TrimSpace(args.Intent),
		Emotion:     strings.TrimSpace(args.Emotion),
		Description: strings.TrimSpace(args.Description),
		CreatedAt:   now,
		WakeUpTime:  wake,
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Planned for %s: %s", plan.WakeUpTime.Format(dateTimeLayout), plan.Intent), nil
}

func cancelAction(ctx context.Context, _ string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	plan, err := s.Room.ActivePlan()
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "There is no planned action.", nil
	}

	if err = s.Room.ClearPlan(); err != nil {
		return "", err
	}
	return "Cancelled: " + plan.Intent, nil
}

func getActionPlan(ctx context.Context, _ string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	plan, err := s.Room.ActivePlan()
	if err != nil {
		return "", err
	}
	if plan == nil {
		return "There is no planned action.", nil
	}

	text := fmt.Sprintf("At %s: %s", plan.WakeUpTime.Format(dateTimeLayout), plan.Intent)
	if plan.Emotion != "" {
		text += "\nFeeling: " + plan.Emotion
	}
	if plan.Description != "" {
		text += "\n" + plan.Description
	}
	return text, nil
}

func (r *Registry) setAlarm(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args alarmArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	now := r.now()
	at, err := parseWhen(args.Time, now)
	if err != nil {
		return "", err
	}
	if !at.After(now) {
		return "", oops.With("time", at).Errorf("alarm time must be in the future")
	}

	alarm, err := s.Room.AddAlarm(room.Alarm{Kind: room.KindAlarm, FireAt: at, Message: strings.TrimSpace(args.Message)})
	if err != nil {
		return "", err
	}

	return "Alarm set for " + alarm.FireAt.Format(dateTimeLayout) + ".", nil
}

func (r *Registry) setTimer(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args timerArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	now := r.now()
	alarm := room.Alarm{Kind: room.KindTimer, Message: strings.TrimSpace(args.Message)}

	if args.Pomodoro {
		alarm.Kind = room.KindPomodoro
		alarm.WorkMinutes = orDefault(args.WorkMinutes, 25)
		alarm.BreakMinutes = orDefault(args.BreakMinutes, 5)
		alarm.CyclesLeft = orDefault(args.Cycles, 4)
		alarm.Phase = room.PhaseWork
		alarm.FireAt = now.Add(time.Duration(alarm.WorkMinutes) * time.Minute)
	} else {
		if args.Minutes < 1 {
			return "", oops.Errorf("timer needs at least one minute")
		}
		alarm.FireAt = now.Add(time.Duration(args.Minutes) * time.Minute)
	}

	if alarm, err = s.Room.AddAlarm(alarm); err != nil {
		return "", err
	}

	if alarm.Kind == room.KindPomodoro {
		return fmt.Sprintf("Pomodoro started: %d cycles of %d min work and %d min break. First break at %s.",
			alarm.CyclesLeft, alarm.WorkMinutes, alarm.BreakMinutes, alarm.FireAt.Format(clockLayout)), nil
	}
	return "Timer set, it rings at " + alarm.FireAt.Format(clockLayout) + ".", nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
