package tools

import (
	"context"
	"fmt"
	"strings"

	"hearth/app/client/llm"
	"hearth/app/service/editor"
	"hearth/app/service/retrieval"
	"hearth/app/service/room"
	"hearth/app/service/world"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
)

type locationArgs struct {
	Place string `json:"place" validate:"required"`
}

type planArgs struct {
	Intent string `json:"intent" validate:"required"`
}

type searchArgs struct {
	Query string `json:"query" validate:"required"`
}

var (
	placeParam  = llm.Param{Name: "place", Type: "string", Description: "Place name from the world document", Required: true}
	intentParam = llm.Param{Name: "intent", Type: "string", Description: "What you want to change and why", Required: true}
	queryParam  = llm.Param{Name: "query", Type: "string", Description: "Names or keywords to look for", Required: true}
)

func (r *Registry) roomTools() []Tool {
	result := []Tool{
		&roomTool{
			name:        "set_location",
			description: "Move to a place of the world.",
			params:      []llm.Param{placeParam},
			call:        setLocation,
		},
		readTool("read_world", "Read the world document: areas and their places.", room.World),
		planTool("plan_world_edit", "Plan a change to the world document (add, describe or remove a place).", editor.TargetWorld),
		readTool("read_memory", "Read your core memory.", room.CoreMemory),
		planTool("plan_memory_edit", "Plan a change to your core memory.", editor.TargetMemory),
		readTool("read_diary", "Read your secret diary.", room.SecretDiary),
		planTool("plan_diary_edit", "Plan a new entry or a change in your secret diary.", editor.TargetDiary),
		readTool("read_notepad", "Read your notepad.", room.Notepad),
		planTool("plan_notepad_edit", "Plan a change to your notepad.", editor.TargetNotepad),
		&roomTool{
			name:        "search_knowledge",
			description: "Search the knowledge base: known people, places and facts, and the knowledge documents.",
			params:      []llm.Param{queryParam},
			call:        r.searchKnowledge,
		},
		&roomTool{
			name:        "search_past_conversations",
			description: "Search earlier conversations for keywords.",
			params:      []llm.Param{queryParam},
			call:        searchPastConversations,
		},
	}

	return append(result, r.scheduleTools()...)
}

func readTool(name, description string, doc room.Document) *roomTool {
	return &roomTool{
		name:        name,
		description: description,
		call: func(ctx context.Context, input string) (string, error) {
			s, err := scopeFrom(ctx)
			if err != nil {
				return "", err
			}

			content, err := s.Room.Read(doc)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(content) == "" {
				return fmt.Sprintf("%s is empty.", doc), nil
			}
			return content, nil
		},
	}
}

// planTool records an edit intent. The edit itself is carried out by the
// editor once the agent sees the call.
func planTool(name, description string, target editor.Target) *roomTool {
	return &roomTool{
		name:        name,
		description: description,
		params:      []llm.Param{intentParam},
		plan:        target,
		call: func(ctx context.Context, input string) (string, error) {
			var args planArgs
			if err := decodeArgs(input, &args); err != nil {
				return "", err
			}
			return fmt.Sprintf("Intent recorded for %s: %s", target.Document(), args.Intent), nil
		},
	}
}

// PlanIntent extracts the intent of a plan tool call.
func PlanIntent(call llm.ToolCall) (string, error) {
	var args planArgs
	if err := decodeArgs(call.ArgsJSON(), &args); err != nil {
		return "", err
	}
	return strings.TrimSpace(args.Intent), nil
}

func setLocation(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args locationArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	text, err := s.Room.Read(room.World)
	if err != nil {
		return "", err
	}

	place := strings.TrimSpace(args.Place)
	if places := world.Places(text); len(places) > 0 {
		found, ok := world.Find(text, place)
		if !ok {
			names := pie.Map(places, func(p world.Place) string { return p.Name })
			return "", oops.With("place", place).Errorf("unknown place %q, known places: %s", place, strings.Join(names, ", "))
		}
		place = found.Name
	}

	if err = s.Room.SetLocation(place); err != nil {
		return "", err
	}

	return "You are now at " + place + ".", nil
}

func (r *Registry) searchKnowledge(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args searchArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	res, err := r.memorySvc.Search(ctx, s.Room, args.Query, 5)
	if err != nil {
		return "", err
	}
	return res.Format(), nil
}

func searchPastConversations(ctx context.Context, input string) (string, error) {
	s, err := scopeFrom(ctx)
	if err != nil {
		return "", err
	}

	var args searchArgs
	if err = decodeArgs(input, &args); err != nil {
		return "", err
	}

	return retrieval.LogSource{}.Search(ctx, retrieval.Request{Room: s.Room, Window: s.Window}, args.Query)
}
