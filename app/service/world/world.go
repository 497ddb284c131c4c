// Package world reads and edits a room's world document: "# Area" sections
// holding "## Place" sections with free-text descriptions.
package world

import (
	"errors"
	"regexp"
	"strings"

	"github.com/samber/oops"
)

var (
	ErrPlaceExists   = errors.New("place already exists")
	ErrPlaceNotFound = errors.New("place not found")
	ErrAreaNotFound  = errors.New("area not found")
)

var (
	areaRe  = regexp.MustCompile(`(?m)^# +(.+?)\s*$`)
	placeRe = regexp.MustCompile(`(?m)^## +(.+?)\s*$`)
)

type Place struct {
	Area        string
	Name        string
	Description string
}

// span is a section's byte range in the document; body starts after the
// header line.
type span struct {
	name       string
	start, end int
	body       int
}

func sections(text string, re *regexp.Regexp, from, to int) []span {
	var out []span
	for _, m := range re.FindAllStringSubmatchIndex(text[from:to], -1) {
		out = append(out, span{
			name:  text[from+m[2] : from+m[3]],
			start: from + m[0],
			body:  from + m[1],
		})
	}
	for i := range out {
		if i+1 < len(out) {
			out[i].end = out[i+1].start
		} else {
			out[i].end = to
		}
	}
	return out
}

func findSpan(spans []span, name string) (span, bool) {
	name = strings.TrimSpace(name)
	for _, s := range spans {
		if strings.EqualFold(s.name, name) {
			return s, true
		}
	}
	return span{}, false
}

// Places lists every place of the document in order.
func Places(text string) []Place {
	var out []Place
	for _, a := range sections(text, areaRe, 0, len(text)) {
		for _, p := range sections(text, placeRe, a.body, a.end) {
			out = append(out, Place{Area: a.name, Name: p.name, Description: strings.TrimSpace(text[p.body:p.end])})
		}
	}
	return out
}

// Find looks a place up by name in any area, case-insensitively.
func Find(text, place string) (Place, bool) {
	for _, p := range Places(text) {
		if strings.EqualFold(p.Name, strings.TrimSpace(place)) {
			return p, true
		}
	}
	return Place{}, false
}

func locate(text, area, place string) (span, span, error) {
	a, ok := findSpan(sections(text, areaRe, 0, len(text)), area)
	if !ok {
		return span{}, span{}, oops.With("area", area).Wrap(ErrAreaNotFound)
	}
	p, ok := findSpan(sections(text, placeRe, a.body, a.end), place)
	if !ok {
		return a, span{}, oops.With("area", area, "place", place).Wrap(ErrPlaceNotFound)
	}
	return a, p, nil
}

func placeBlock(name, description string) string {
	return "## " + strings.TrimSpace(name) + "\n" + strings.TrimSpace(description) + "\n\n"
}

// UpdatePlaceDescription replaces an existing place's description.
func UpdatePlaceDescription(text, area, place, description string) (string, error) {
	_, p, err := locate(text, area, place)
	if err != nil {
		return text, err
	}
	return text[:p.start] + placeBlock(p.name, description) + strings.TrimLeft(text[p.end:], "\n"), nil
}

// AddPlace appends a place to an area, creating the area when missing.
func AddPlace(text, area, place, description string) (string, error) {
	if _, ok := Find(text, place); ok {
		return text, oops.With("area", area, "place", place).Wrap(ErrPlaceExists)
	}

	a, ok := findSpan(sections(text, areaRe, 0, len(text)), area)
	if !ok {
		prefix := strings.TrimRight(text, "\n")
		if prefix != "" {
			prefix += "\n\n"
		}
		return prefix + "# " + strings.TrimSpace(area) + "\n\n" + placeBlock(place, description), nil
	}

	head := strings.TrimRight(text[:a.end], "\n") + "\n\n"
	tail := strings.TrimLeft(text[a.end:], "\n")
	return head + placeBlock(place, description) + tail, nil
}

// DeletePlace removes a place section.
func DeletePlace(text, area, place string) (string, error) {
	_, p, err := locate(text, area, place)
	if err != nil {
		return text, err
	}
	return text[:p.start] + strings.TrimLeft(text[p.end:], "\n"), nil
}
