package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"hearth/app/client/llm"
	"hearth/app/util/jsonx"

	"github.com/samber/oops"
)

const normalizePrompt = `List every entity (person, place, object, concept) mentioned in the conversation below.
Group names that refer to the same entity. Respond with a JSON object mapping each canonical name
to the list of other names, nicknames and spellings used for it in the text. Use an empty list when
an entity has no other names.

Conversation:
%s`

const extractPrompt = `Extract facts from the conversation below. The known entities are: %s.

Respond with a JSON array. Each element is either
{"type": "relationship", "subject": "...", "predicate": "...", "object": "...", "polarity": "positive|negative|neutral", "intensity": 1-10, "context": "..."}
or
{"type": "attribute", "subject": "...", "attribute_key": "...", "attribute_value": "...", "polarity": "positive|negative|neutral", "intensity": 1-10, "context": "..."}

The subject must be one of the known entities. Predicates are short abstract verbs in UPPER_SNAKE_CASE.

Conversation:
%s`

// Mapping is canonical entity name to its aliases.
type Mapping map[string][]string

// Names returns the canonical names in order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every alias with its canonical name in one pass.
// Longer names are tried first so an alias that is a prefix of another
// never splits it.
func Substitute(text string, m Mapping) string {
	replacement := map[string]string{}
	for canonical, aliases := range m {
		if canonical == "" {
			continue
		}
		replacement[canonical] = canonical
		for _, alias := range aliases {
			if alias == "" {
				continue
			}
			if _, taken := replacement[alias]; !taken {
				replacement[alias] = canonical
			}
		}
	}
	if len(replacement) == 0 {
		return text
	}

	names := make([]string, 0, len(replacement))
	for name := range replacement {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(names[i]), utf8.RuneCountInString(names[j])
		if li != lj {
			return li > lj
		}
		return names[i] < names[j]
	})

	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	re := regexp.MustCompile(strings.Join(quoted, "|"))

	return re.ReplaceAllStringFunc(text, func(match string) string {
		return replacement[match]
	})
}

type FactType string

const (
	FactRelationship FactType = "relationship"
	FactAttribute    FactType = "attribute"
)

type Fact struct {
	Type      FactType
	Subject   string
	Predicate string
	Object    string
	Key       string
	Value     string
	Polarity  string
	Intensity int
	Context   string
}

var (
	ErrUnknownSubject = errors.New("subject not in entity mapping")
	ErrMissingField   = errors.New("required field missing")
)

// ParseFact validates one raw fact. known reports whether a subject is an
// entity of the chunk.
func ParseFact(raw map[string]any, known func(string) bool) (Fact, error) {
	subject, ok := raw["subject"].(string)
	if !ok || strings.TrimSpace(subject) == "" || !known(strings.TrimSpace(subject)) {
		return Fact{}, oops.With("subject", raw["subject"]).Wrap(ErrUnknownSubject)
	}

	f := Fact{
		Subject:   strings.TrimSpace(subject),
		Polarity:  optionalString(raw, "polarity"),
		Context:   optionalString(raw, "context"),
		Intensity: intensity(raw["intensity"]),
	}

	switch FactType(optionalString(raw, "type")) {
	case FactRelationship:
		f.Type = FactRelationship
		f.Predicate, ok = requiredString(raw, "predicate")
		if !ok {
			return Fact{}, oops.With("field", "predicate").Wrap(ErrMissingField)
		}
		f.Object, ok = requiredString(raw, "object")
		if !ok {
			return Fact{}, oops.With("field", "object").Wrap(ErrMissingField)
		}
		f.Predicate = strings.ToUpper(strings.ReplaceAll(f.Predicate, " ", "_"))
	case FactAttribute:
		f.Type = FactAttribute
		f.Key, ok = requiredString(raw, "attribute_key")
		if !ok {
			return Fact{}, oops.With("field", "attribute_key").Wrap(ErrMissingField)
		}
		f.Value, ok = requiredString(raw, "attribute_value")
		if !ok {
			return Fact{}, oops.With("field", "attribute_value").Wrap(ErrMissingField)
		}
	default:
		return Fact{}, oops.With("field", "type", "value", raw["type"]).Wrap(ErrMissingField)
	}

	return f, nil
}

func requiredString(raw map[string]any, key string) (string, bool) {
	s, ok := raw[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}

func optionalString(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

func intensity(v any) int {
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case string:
		fmt.Sscanf(t, "%d", &n)
	}
	return min(max(n, 0), 10)
}

// ApplyFacts validates raw facts and writes the valid ones into g.
// Invalid facts are logged and skipped.
func ApplyFacts(ctx context.Context, g *Graph, raw []map[string]any, known func(string) bool) (applied, skipped int) {
	for i, r := range raw {
		f, err := ParseFact(r, known)
		if err != nil {
			slog.DebugContext(ctx, "Skipping invalid fact", "index", i, "error", err)
			skipped++
			continue
		}

		switch f.Type {
		case FactRelationship:
			g.UpsertRelationship(Relationship{
				Subject:   f.Subject,
				Predicate: f.Predicate,
				Object:    f.Object,
				Polarity:  f.Polarity,
				Intensity: f.Intensity,
				Context:   f.Context,
			})
		case FactAttribute:
			g.SetAttribute(f.Subject, f.Key, f.Value)
		}
		applied++
	}

	return applied, skipped
}

// Extractor runs the normalize, substitute and extract steps over a chunk.
type Extractor struct {
	caller llm.Caller
}

func NewExtractor(caller llm.Caller) *Extractor {
	return &Extractor{caller: caller}
}

// Normalize asks for the chunk's entity mapping. A reply that stays
// malformed after repair yields an empty mapping; call failures are
// returned.
func (x *Extractor) Normalize(ctx context.Context, chunk string) (Mapping, error) {
	var raw map[string]any
	err := x.caller.JSON(ctx, "normalize_entities", "", fmt.Sprintf(normalizePrompt, chunk), &raw)
	if errors.Is(err, llm.ErrMalformedJSON) {
		slog.WarnContext(ctx, "Entity normalization unusable, continuing with raw names", "error", err)
		return Mapping{}, nil
	}
	if err != nil {
		return nil, err
	}

	m := Mapping{}
	for canonical, v := range raw {
		canonical = strings.TrimSpace(jsonx.Sanitize(canonical))
		if canonical == "" {
			continue
		}

		var aliases []string
		switch t := v.(type) {
		case []any:
			for _, a := range t {
				if s, ok := a.(string); ok && strings.TrimSpace(s) != "" {
					aliases = append(aliases, strings.TrimSpace(s))
				}
			}
		case string:
			if strings.TrimSpace(t) != "" {
				aliases = append(aliases, strings.TrimSpace(t))
			}
		}

		m[canonical] = aliases
	}

	return m, nil
}

// ExtractFacts asks for typed facts about the mapped entities. Malformed
// output after repair is an empty fact list.
func (x *Extractor) ExtractFacts(ctx context.Context, chunk string, m Mapping) ([]map[string]any, error) {
	entities := strings.Join(m.Names(), ", ")
	if entities == "" {
		entities = "(any named entity appearing in the text)"
	}

	var raw []map[string]any
	err := x.caller.JSON(ctx, "extract_facts", "", fmt.Sprintf(extractPrompt, entities, chunk), &raw)
	if errors.Is(err, llm.ErrMalformedJSON) {
		slog.WarnContext(ctx, "Fact extraction unusable, skipping chunk facts", "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return raw, nil
}

type DeepenResult struct {
	Entities int
	Applied  int
	Skipped  int
}

// Deepen runs normalize, substitute and extract over one chunk and merges
// the outcome into g. The graph is only mutated once every model call has
// succeeded.
func (x *Extractor) Deepen(ctx context.Context, g *Graph, chunk string) (DeepenResult, error) {
	m, err := x.Normalize(ctx, chunk)
	if err != nil {
		return DeepenResult{}, oops.In("graph").Wrapf(err, "normalize entities")
	}

	text := Substitute(chunk, m)

	raw, err := x.ExtractFacts(ctx, text, m)
	if err != nil {
		return DeepenResult{}, oops.In("graph").Wrapf(err, "extract facts")
	}

	known := func(subject string) bool {
		if len(m) == 0 {
			// Without a mapping, raw names present in the text are accepted.
			return strings.Contains(text, subject)
		}
		_, ok := m[subject]
		return ok
	}

	for canonical, aliases := range m {
		g.AddAliases(canonical, aliases)
	}

	applied, skipped := ApplyFacts(ctx, g, raw, known)

	return DeepenResult{Entities: len(m), Applied: applied, Skipped: skipped}, nil
}
