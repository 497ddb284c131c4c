package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"hearth/app/client/llm"

	"github.com/elliotchance/pie/v2"
)

// Entity is a named thing found in a chunk.
type Entity struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// EntityRecognizer finds the named entities of a text.
type EntityRecognizer interface {
	Entities(ctx context.Context, text string) ([]Entity, error)
}

const recognizePrompt = `List the named entities in the text below: people, places, organisations, works and
other proper nouns. Respond with a JSON array of {"name": "...", "category": "PERSON|PLACE|ORG|WORK|OTHER"}.
Use each name exactly as written in the text and list it once.

Text:
%s`

// ModelRecognizer asks a language model for the entities.
type ModelRecognizer struct {
	caller llm.Caller
}

func NewModelRecognizer(caller llm.Caller) *ModelRecognizer {
	return &ModelRecognizer{caller: caller}
}

func (r *ModelRecognizer) Entities(ctx context.Context, text string) ([]Entity, error) {
	var entities []Entity
	err := r.caller.JSON(ctx, "recognize_entities", "", fmt.Sprintf(recognizePrompt, text), &entities)
	if errors.Is(err, llm.ErrMalformedJSON) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return dedupe(entities), nil
}

var (
	phraseRe  = regexp.MustCompile(`\p{Lu}[\p{L}\p{N}'-]*(?:\s+\p{Lu}[\p{L}\p{N}'-]*)*`)
	speakerRe = regexp.MustCompile(`(?m)^([^:\n]{1,40}):`)
)

// HeuristicRecognizer treats capitalised phrases and speaker names as
// entities. It needs no model and suits offline rebuilds.
type HeuristicRecognizer struct {
	// Stopwords are capitalised words that are never entities on their own.
	Stopwords map[string]bool
}

func NewHeuristicRecognizer() *HeuristicRecognizer {
	stop := map[string]bool{}
	for _, w := range strings.Fields("I I'm I'll I've I'd The A An And But Or So If Then When What Why How Who Where " +
		"Yes No Oh Ok Okay Hi Hello Well This That These Those It It's We You He She They My Your Our Their " +
		"Good Thanks Thank Please Sure Maybe Today Tomorrow Yesterday USER AGENT SYSTEM") {
		stop[w] = true
	}
	return &HeuristicRecognizer{Stopwords: stop}
}

func (r *HeuristicRecognizer) Entities(_ context.Context, text string) ([]Entity, error) {
	var entities []Entity

	for _, m := range speakerRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" && !r.Stopwords[name] {
			entities = append(entities, Entity{Name: name, Category: "PERSON"})
		}
	}

	for _, phrase := range phraseRe.FindAllString(text, -1) {
		words := pie.DropWhile(strings.Fields(phrase), func(w string) bool { return r.Stopwords[w] })
		if len(words) == 0 {
			continue
		}
		name := strings.Join(words, " ")
		if len([]rune(name)) < 2 || !hasLower(name) {
			continue
		}
		entities = append(entities, Entity{Name: name, Category: "OTHER"})
	}

	return dedupe(entities), nil
}

func hasLower(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

// dedupe keeps the first occurrence of every name in order.
func dedupe(entities []Entity) []Entity {
	seen := map[string]bool{}
	var out []Entity
	for _, e := range entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	return out
}
