// Package graph builds and stores a room's knowledge graph: entities,
// their aliases and attributes, and directed relations between them.
package graph

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"hearth/app/util/fileutil"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
)

const (
	// RelatedTo is the provisional co-occurrence relation.
	RelatedTo = "related_to"
	// Unknown is the classifier's answer when no relation fits.
	Unknown = "UNKNOWN"
)

// Relations is the closed vocabulary of the refinement pass.
var Relations = []string{"IS_IN", "GOES_TO", "TALKS_ABOUT", "LIKES", "DISLIKES", "HAS"}

type Node struct {
	ID string
	// Aliases is a JSON-encoded list of alternative names.
	Aliases    string
	Category   string
	Frequency  int
	Attributes map[string]string
}

func (n *Node) AliasList() []string {
	var aliases []string
	if n.Aliases != "" {
		_ = json.Unmarshal([]byte(n.Aliases), &aliases)
	}
	return aliases
}

func (n *Node) addAliases(aliases []string) {
	merged := pie.Sort(pie.Unique(append(n.AliasList(), aliases...)))
	merged = pie.Filter(merged, func(a string) bool { return a != "" && a != n.ID })
	if len(merged) == 0 {
		n.Aliases = "[]"
		return
	}

	data, _ := json.Marshal(merged)
	n.Aliases = string(data)
}

type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Relation  string `json:"relation"`
	Label     string `json:"label,omitempty"`
	Polarity  string `json:"polarity,omitempty"`
	Intensity int    `json:"intensity,omitempty"`
	Context   string `json:"context,omitempty"`
	Frequency int    `json:"frequency"`
	// Chunk is the text the edge was first seen in.
	Chunk string `json:"chunk,omitempty"`
	// Refined is set once the classifier answered for this edge.
	Refined bool `json:"refined,omitempty"`
}

func (e *Edge) Provisional() bool {
	return e.Relation == RelatedTo
}

type edgeKey struct {
	source, target string
}

// Graph is a directed graph with at most one edge per ordered node pair.
// It is not safe for concurrent use.
type Graph struct {
	nodes map[string]*Node
	edges map[edgeKey]*Edge
}

func NewGraph() *Graph {
	return &Graph{
		nodes: map[string]*Node{},
		edges: map[edgeKey]*Edge{},
	}
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Edge(source, target string) (*Edge, bool) {
	e, ok := g.edges[edgeKey{source, target}]
	return e, ok
}

func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []*Node {
	ids := pie.Sort(pie.Keys(g.nodes))
	return pie.Map(ids, func(id string) *Node { return g.nodes[id] })
}

// Edges returns all edges ordered by source then target.
func (g *Graph) Edges() []*Edge {
	edges := pie.Values(g.edges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

func (g *Graph) ensure(id, category string) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id, Aliases: "[]", Category: category, Attributes: map[string]string{}}
		g.nodes[id] = n
	}
	if n.Category == "" {
		n.Category = category
	}
	return n
}

// Touch ensures the node exists and bumps its frequency.
func (g *Graph) Touch(id, category string) *Node {
	n := g.ensure(id, category)
	n.Frequency++
	return n
}

func (g *Graph) AddAliases(id string, aliases []string) {
	g.ensure(id, "").addAliases(aliases)
}

func (g *Graph) Connected(a, b string) bool {
	_, ab := g.edges[edgeKey{a, b}]
	_, ba := g.edges[edgeKey{b, a}]
	return ab || ba
}

// AddProvisional adds a related_to edge from a to b unless the pair is
// already connected in either direction.
func (g *Graph) AddProvisional(a, b, chunk string) bool {
	if a == b || g.Connected(a, b) {
		return false
	}

	g.ensure(a, "")
	g.ensure(b, "")
	g.edges[edgeKey{a, b}] = &Edge{
		Source:    a,
		Target:    b,
		Relation:  RelatedTo,
		Frequency: 1,
		Chunk:     chunk,
	}

	return true
}

// SetRelation records a classifier answer for an existing edge. The
// provisional relation never replaces a specific one.
func (g *Graph) SetRelation(source, target, relation string) bool {
	e, ok := g.edges[edgeKey{source, target}]
	if !ok {
		return false
	}

	e.Refined = true
	if relation == "" || relation == RelatedTo || relation == Unknown {
		return false
	}

	e.Relation = relation
	e.Label = relation
	return true
}

// Relationship is a typed fact between two entities.
type Relationship struct {
	Subject   string
	Predicate string
	Object    string
	Polarity  string
	Intensity int
	Context   string
}

// UpsertRelationship writes a directed edge, incrementing its frequency when
// it already exists.
func (g *Graph) UpsertRelationship(r Relationship) *Edge {
	g.Touch(r.Subject, "")
	g.Touch(r.Object, "")

	key := edgeKey{r.Subject, r.Object}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{Source: r.Subject, Target: r.Object}
		g.edges[key] = e
	}

	e.Frequency++
	e.Refined = true
	if r.Predicate != "" && r.Predicate != RelatedTo {
		e.Relation = r.Predicate
		e.Label = r.Predicate
	} else if e.Relation == "" {
		e.Relation = RelatedTo
	}
	if r.Polarity != "" {
		e.Polarity = r.Polarity
	}
	if r.Intensity > 0 {
		e.Intensity = r.Intensity
	}
	if r.Context != "" {
		e.Context = r.Context
	}

	return e
}

// SetAttribute stores an attribute directly on the node.
func (g *Graph) SetAttribute(subject, key, value string) {
	if reservedKeys[key] {
		key = "attr_" + key
	}

	n := g.Touch(subject, "")
	n.Attributes[key] = value
}

// Pending returns the provisional edges the classifier has not answered for.
func (g *Graph) Pending() []*Edge {
	return pie.Filter(g.Edges(), func(e *Edge) bool {
		return e.Provisional() && !e.Refined
	})
}

// Resolve maps a name or alias to a node id, case-insensitively.
func (g *Graph) Resolve(name string) (string, bool) {
	if _, ok := g.nodes[name]; ok {
		return name, true
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	for _, n := range g.Nodes() {
		if strings.ToLower(n.ID) == lower {
			return n.ID, true
		}
		for _, alias := range n.AliasList() {
			if strings.ToLower(alias) == lower {
				return n.ID, true
			}
		}
	}

	return "", false
}

// Describe renders what the graph knows about a node: attributes and
// outgoing and incoming specific relations.
func (g *Graph) Describe(id string) string {
	n, ok := g.nodes[id]
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(n.ID)
	if n.Category != "" {
		b.WriteString(" (" + n.Category + ")")
	}
	b.WriteString("\n")

	for _, key := range pie.Sort(pie.Keys(n.Attributes)) {
		b.WriteString("  - " + key + ": " + n.Attributes[key] + "\n")
	}

	for _, e := range g.Edges() {
		if e.Provisional() || (e.Source != id && e.Target != id) {
			continue
		}
		line := "  - " + e.Source + " " + e.Relation + " " + e.Target
		if e.Context != "" {
			line += " (" + e.Context + ")"
		}
		b.WriteString(line + "\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// Store loads and saves one graph file. Each save rewrites the whole file.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Load() (*Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc document
	if _, err := fileutil.ReadJSON(s.path, &doc); err != nil {
		return nil, oops.In("graph").With("path", s.path).Wrapf(err, "load graph")
	}

	return doc.graph(), nil
}

func (s *Store) Save(g *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fileutil.WriteJSON(s.path, newDocument(g)); err != nil {
		return oops.In("graph").With("path", s.path).Wrapf(err, "save graph")
	}
	return nil
}
