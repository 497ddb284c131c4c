package prompt

import (
	"strings"

	_ "embed"
)

//go:embed tool_guide.txt
var toolGuide string

// Parts are the sections of the system prompt. Empty sections are left
// out.
type Parts struct {
	Situation      string
	Persona        string
	CoreMemory     string
	Notepad        string
	EpisodicRecall string
	Dreams         string
	ActionPlan     string
	ToolGuide      string
	// Retrieval is filled per agent iteration, see Assembled.WithRetrieval.
	Retrieval string
}

func DefaultParts(agentName string) Parts {
	return Parts{
		Persona:   "You are " + agentName + ". Stay in character and speak in the first person.",
		ToolGuide: strings.TrimSpace(toolGuide),
	}
}

type section struct {
	title string
	text  string
}

func (p Parts) sections() []section {
	return []section{
		{"", p.Persona},
		{"Situation", p.Situation},
		{"Core memory", p.CoreMemory},
		{"Notepad", p.Notepad},
		{"Recent days", p.EpisodicRecall},
		{"Dreams", p.Dreams},
		{"Action plan", p.ActionPlan},
		{"Recalled from long-term memory", p.Retrieval},
		{"Tools", p.ToolGuide},
	}
}

// Render joins the non-empty sections under markdown headers.
func (p Parts) Render() string {
	var b strings.Builder
	for _, s := range p.sections() {
		text := strings.TrimSpace(s.text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if s.title != "" {
			b.WriteString("## " + s.title + "\n")
		}
		b.WriteString(text)
	}
	return b.String()
}
