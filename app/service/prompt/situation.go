package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"hearth/app/service/room"
	"hearth/app/service/world"
)

const sceneryPrompt = `Describe in 2 to 3 vivid sentences what %s looks, sounds and smells like on a %s %s.
Place description: %s
Respond with the description only.`

func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 21:
		return "evening"
	default:
		return "night"
	}
}

func Season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

// situation renders the time, the current place and its scenery.
func (a *Assembler) situation(ctx context.Context, r *room.Room, settings room.Settings, now time.Time) (string, error) {
	tod, season := TimeOfDay(now), Season(now)

	lines := []string{
		"Current time: " + now.Format(room.TimeLayout),
		"It is " + season + ", " + tod + ".",
	}

	location, err := r.Location()
	if err != nil {
		return "", err
	}
	if location == "" {
		return strings.Join(lines, "\n"), nil
	}

	worldText, err := r.Read(room.World)
	if err != nil {
		return "", err
	}

	place, known := world.Find(worldText, location)
	if known {
		lines = append(lines, fmt.Sprintf("%s is at %s (%s).", settings.AgentName, place.Name, place.Area))
		if place.Description != "" {
			lines = append(lines, place.Description)
		}
	} else {
		lines = append(lines, fmt.Sprintf("%s is at %s.", settings.AgentName, location))
	}

	if settings.Scenery {
		if scenery := a.scenery(ctx, r, location, place.Description, season, tod); scenery != "" {
			lines = append(lines, "Scenery: "+scenery)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// scenery returns the cached description for the place and moment, asking
// the model once when it is missing. Failures leave the scenery out.
func (a *Assembler) scenery(ctx context.Context, r *room.Room, location, description, season, tod string) string {
	key := room.SceneryKey(location, season, tod)

	text, ok, err := r.Scenery(key)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read scenery cache", "room", r.Name(), "error", err)
		return ""
	}
	if ok {
		return text
	}

	if description == "" {
		description = "(no description)"
	}

	text, err = a.caller.Text(ctx, "scenery", "", fmt.Sprintf(sceneryPrompt, location, season, tod, description), false)
	if err != nil {
		slog.WarnContext(ctx, "Failed to generate scenery", "room", r.Name(), "location", location, "error", err)
		return ""
	}

	if err = r.CacheScenery(key, text); err != nil {
		slog.WarnContext(ctx, "Failed to cache scenery", "room", r.Name(), "error", err)
	}

	return text
}
