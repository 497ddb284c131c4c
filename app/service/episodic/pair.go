package episodic

import (
	"strings"
	"time"

	"hearth/app/service/room"
)

// Pair is one user message with the agent replies that followed it.
type Pair struct {
	Index int
	// System holds system messages that came right before the exchange.
	System string
	// After holds system messages closing a finished log.
	After     string
	User      string
	Agent     string
	UserName  string
	AgentName string
	Time      time.Time
}

// Pairs groups log entries into exchanges. A pair starts at a user message,
// absorbing the system messages just before it, and collects agent messages
// until the next user message. Agent messages following system messages
// with no user message in between open an autonomous pair with an empty
// user side. System messages after the last exchange wait for the next one.
func Pairs(entries []room.Entry) []Pair {
	return pairUp(entries, false)
}

// ClosedPairs groups a finished log. Its trailing system messages go to the
// last exchange, or form one of their own when there is none.
func ClosedPairs(entries []room.Entry) []Pair {
	return pairUp(entries, true)
}

func pairUp(entries []room.Entry, closed bool) []Pair {
	var pairs []Pair
	var system []string
	var cur *Pair
	var agent []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Agent = strings.Join(agent, "\n")
		cur.Index = len(pairs)
		pairs = append(pairs, *cur)
		cur, agent = nil, nil
	}

	open := func(e room.Entry) {
		flush()
		cur = &Pair{System: strings.Join(system, "\n"), Time: e.Time}
		system = nil
	}

	for _, e := range entries {
		switch e.Speaker {
		case room.SpeakerSystem:
			system = append(system, e.Text)
		case room.SpeakerUser:
			open(e)
			cur.User = e.Text
			cur.UserName = e.Name
		case room.SpeakerAgent:
			if cur == nil || len(system) > 0 {
				open(e)
			}
			agent = append(agent, e.Text)
			cur.AgentName = e.Name
			if cur.Time.IsZero() {
				cur.Time = e.Time
			}
		}
	}
	flush()

	if closed && len(system) > 0 {
		if n := len(pairs); n > 0 {
			pairs[n-1].After = strings.Join(system, "\n")
		} else {
			pairs = append(pairs, Pair{System: strings.Join(system, "\n")})
		}
	}

	return pairs
}

// Text renders the pair for summarization.
func (p Pair) Text() string {
	var b strings.Builder
	if p.System != "" {
		b.WriteString("[System]\n" + p.System + "\n\n")
	}
	if p.User != "" {
		b.WriteString(speaker(p.UserName, "User") + ": " + p.User + "\n\n")
	}
	if p.Agent != "" {
		b.WriteString(speaker(p.AgentName, "Agent") + ": " + p.Agent + "\n\n")
	}
	if p.After != "" {
		b.WriteString("[System]\n" + p.After + "\n")
	}
	return strings.TrimSpace(b.String())
}

func speaker(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
