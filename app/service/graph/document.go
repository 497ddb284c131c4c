package graph

import (
	"encoding/json"
	"fmt"
)

// document is the node-link file layout:
//
//	{"directed": true, "multigraph": false, "graph": {}, "nodes": [...], "links": [...]}
//
// Node attributes are flattened next to id, aliases, category and frequency.
type document struct {
	Directed   bool           `json:"directed"`
	Multigraph bool           `json:"multigraph"`
	Graph      map[string]any `json:"graph"`
	Nodes      []nodeRecord   `json:"nodes"`
	Links      []*Edge        `json:"links"`
}

type nodeRecord Node

var reservedKeys = map[string]bool{"id": true, "aliases": true, "category": true, "frequency": true}

func (n nodeRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(n.Attributes)+4)
	for k, v := range n.Attributes {
		m[k] = v
	}
	m["id"] = n.ID
	m["aliases"] = n.Aliases
	m["category"] = n.Category
	m["frequency"] = n.Frequency

	return json.Marshal(m)
}

func (n *nodeRecord) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*n = nodeRecord{Attributes: map[string]string{}}

	for k, v := range m {
		switch k {
		case "id":
			n.ID = stringify(v)
		case "aliases":
			n.Aliases = stringify(v)
		case "category":
			n.Category = stringify(v)
		case "frequency":
			if f, ok := v.(float64); ok {
				n.Frequency = int(f)
			}
		default:
			n.Attributes[k] = stringify(v)
		}
	}

	if n.Aliases == "" {
		n.Aliases = "[]"
	}

	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		data, _ := json.Marshal(t)
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func newDocument(g *Graph) document {
	nodes := g.Nodes()

	doc := document{
		Directed: true,
		Graph:    map[string]any{},
		Nodes:    make([]nodeRecord, 0, len(nodes)),
		Links:    g.Edges(),
	}
	for _, n := range nodes {
		doc.Nodes = append(doc.Nodes, nodeRecord(*n))
	}

	return doc
}

func (d document) graph() *Graph {
	g := NewGraph()

	for _, rec := range d.Nodes {
		if rec.ID == "" {
			continue
		}
		n := Node(rec)
		g.nodes[n.ID] = &n
	}

	for _, e := range d.Links {
		if e == nil || e.Source == "" || e.Target == "" {
			continue
		}
		if e.Relation == "" {
			e.Relation = RelatedTo
		}
		g.ensure(e.Source, "")
		g.ensure(e.Target, "")
		g.edges[edgeKey{e.Source, e.Target}] = e
	}

	return g
}
