package graph

import (
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/model"
)

// Description is the JSON form of a graph. Nodes appear in arena order and
// name their ancestors, which must appear earlier.
type Description struct {
	Nodes []NodeDescription `json:"nodes"`
}

// NodeDescription is one node of a Description.
type NodeDescription struct {
	Name   string            `json:"name"`
	Base   bool              `json:"base,omitempty"`
	Shards int               `json:"shards"`
	Domain model.DomainIndex `json:"domain"`
	Inputs []EdgeDescription `json:"inputs,omitempty"`
}

// EdgeDescription names an ancestor. Sharding is "aligned" or "broadcast";
// when empty it is aligned for equal shard counts and broadcast otherwise.
type EdgeDescription struct {
	From     string `json:"from"`
	Sharding string `json:"sharding,omitempty"`
}

// Decode reads a JSON description and builds the graph.
func Decode(r io.Reader) (*Graph, error) {
	var d Description
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode graph"), ErrInvalidGraph)
	}
	return d.Build()
}

// Build constructs the graph the description names.
func (d Description) Build() (*Graph, error) {
	g := New()
	for _, nd := range d.Nodes {
		if nd.Base {
			if len(nd.Inputs) > 0 {
				return nil, errors.Mark(errors.Newf("base node %q cannot have inputs", nd.Name), ErrInvalidGraph)
			}
			if _, err := g.AddBase(nd.Name, nd.Domain, nd.Shards); err != nil {
				return nil, err
			}
			continue
		}
		edges := make([]Edge, 0, len(nd.Inputs))
		for _, in := range nd.Inputs {
			from, ok := g.Lookup(in.From)
			if !ok {
				return nil, errors.Mark(errors.Newf("node %q: unknown ancestor %q", nd.Name, in.From), ErrInvalidGraph)
			}
			sh, err := parseSharding(in.Sharding, g.Node(from).Shards, nd.Shards)
			if err != nil {
				return nil, errors.Wrapf(err, "node %q", nd.Name)
			}
			edges = append(edges, Edge{From: from, Sharding: sh})
		}
		if _, err := g.AddNode(nd.Name, nd.Domain, nd.Shards, edges...); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func parseSharding(s string, from, to int) (Sharding, error) {
	switch s {
	case "aligned":
		return Aligned, nil
	case "broadcast":
		return Broadcast, nil
	case "":
		if from == to {
			return Aligned, nil
		}
		return Broadcast, nil
	default:
		return 0, errors.Mark(errors.Newf("unknown sharding %q", s), ErrInvalidGraph)
	}
}

// Describe returns the JSON form of g.
func (g *Graph) Describe() Description {
	d := Description{Nodes: make([]NodeDescription, len(g.nodes))}
	for i, n := range g.nodes {
		nd := NodeDescription{Name: n.Name, Base: n.Base, Shards: n.Shards, Domain: n.Domain}
		for _, e := range n.Ancestors {
			nd.Inputs = append(nd.Inputs, EdgeDescription{
				From:     g.nodes[e.From].Name,
				Sharding: e.Sharding.String(),
			})
		}
		d.Nodes[i] = nd
	}
	return d
}
