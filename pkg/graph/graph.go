// Package graph describes the finished operator graph that path
// assignment is computed from.
//
// Nodes live in an arena and refer to their ancestors by index. An ancestor
// must be added before its children, so arena order is a topological order
// and the graph cannot contain cycles.
package graph

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/model"
)

// ErrInvalidGraph marks graph construction errors. Unlike clock invariant
// violations these are ordinary, recoverable input errors.
var ErrInvalidGraph = errors.New("invalid graph")

// Sharding says how the shards of an ancestor feed the shards of a child.
type Sharding int

const (
	// Aligned feeds child shard i from ancestor shard i. Both sides must
	// have the same shard count.
	Aligned Sharding = iota
	// Broadcast feeds every child shard from every ancestor shard.
	Broadcast
)

func (s Sharding) String() string {
	switch s {
	case Aligned:
		return "aligned"
	case Broadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Edge connects an ancestor to a child.
type Edge struct {
	From     model.NodeIndex
	Sharding Sharding
}

// Node is one operator in the arena.
type Node struct {
	Name      string
	Base      bool
	Shards    int
	Domain    model.DomainIndex
	Ancestors []Edge
}

// Input is one stream feeding a (node, shard): a shard of an ancestor.
type Input = model.ShardKey

// Graph is an arena of nodes.
type Graph struct {
	nodes  []Node
	byName map[string]model.NodeIndex
	shards map[model.DomainIndex]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]model.NodeIndex),
		shards: make(map[model.DomainIndex]int),
	}
}

// AddBase adds a base table: a node that originates writes.
func (g *Graph) AddBase(name string, domain model.DomainIndex, shards int) (model.NodeIndex, error) {
	return g.add(Node{Name: name, Base: true, Shards: shards, Domain: domain})
}

// AddNode adds an operator fed by the given ancestors, in ancestor order.
func (g *Graph) AddNode(name string, domain model.DomainIndex, shards int, ancestors ...Edge) (model.NodeIndex, error) {
	if len(ancestors) == 0 {
		return 0, errors.Mark(errors.Newf("node %q has no ancestors; use AddBase for base tables", name), ErrInvalidGraph)
	}
	return g.add(Node{Name: name, Shards: shards, Domain: domain, Ancestors: append([]Edge(nil), ancestors...)})
}

func (g *Graph) add(n Node) (model.NodeIndex, error) {
	invalid := func(format string, args ...interface{}) (model.NodeIndex, error) {
		return 0, errors.Mark(errors.Newf(format, args...), ErrInvalidGraph)
	}
	if n.Name == "" {
		return invalid("node %d has no name", len(g.nodes))
	}
	if _, dup := g.byName[n.Name]; dup {
		return invalid("duplicate node name %q", n.Name)
	}
	if n.Shards < 1 {
		return invalid("node %q: shard count %d < 1", n.Name, n.Shards)
	}
	if want, ok := g.shards[n.Domain]; ok && want != n.Shards {
		return invalid("node %q: domain %d is sharded %d ways, node has %d", n.Name, n.Domain, want, n.Shards)
	}
	for _, e := range n.Ancestors {
		if int(e.From) >= len(g.nodes) {
			return invalid("node %q: ancestor %d does not exist yet", n.Name, e.From)
		}
		a := g.nodes[e.From]
		switch e.Sharding {
		case Aligned:
			if a.Shards != n.Shards {
				return invalid("node %q: aligned edge from %q needs equal shard counts (%d vs %d)",
					n.Name, a.Name, a.Shards, n.Shards)
			}
		case Broadcast:
		default:
			return invalid("node %q: unknown sharding %d on edge from %q", n.Name, e.Sharding, a.Name)
		}
	}
	idx := model.NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.byName[n.Name] = idx
	g.shards[n.Domain] = n.Shards
	return idx, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node at idx.
func (g *Graph) Node(idx model.NodeIndex) Node { return g.nodes[idx] }

// Lookup finds a node by name.
func (g *Graph) Lookup(name string) (model.NodeIndex, bool) {
	idx, ok := g.byName[name]
	return idx, ok
}

// Inputs expands a (node, shard)'s edges into its ordered input streams.
// The position of a stream in the result is its ancestor ordinal.
func (g *Graph) Inputs(idx model.NodeIndex, shard int) []Input {
	n := g.nodes[idx]
	var in []Input
	for _, e := range n.Ancestors {
		switch e.Sharding {
		case Aligned:
			in = append(in, Input{Node: e.From, Shard: shard})
		case Broadcast:
			for s := 0; s < g.nodes[e.From].Shards; s++ {
				in = append(in, Input{Node: e.From, Shard: s})
			}
		}
	}
	return in
}

// Children returns, for a (node, shard), every child stream it feeds and
// the ancestor ordinal it occupies there, in arena order.
func (g *Graph) Children(idx model.NodeIndex, shard int) []Child {
	var out []Child
	for c := int(idx) + 1; c < len(g.nodes); c++ {
		for s := 0; s < g.nodes[c].Shards; s++ {
			for ord, in := range g.Inputs(model.NodeIndex(c), s) {
				if in.Node == idx && in.Shard == shard {
					out = append(out, Child{Key: model.ShardKey{Node: model.NodeIndex(c), Shard: s}, Ancestor: ord})
				}
			}
		}
	}
	return out
}

// Child is a downstream stream of a (node, shard).
type Child struct {
	Key      model.ShardKey
	Ancestor int
}

// DomainShards returns every (domain, shard) pair in the graph, ordered by
// domain then shard.
func (g *Graph) DomainShards() []model.DomainShard {
	domains := make([]model.DomainIndex, 0, len(g.shards))
	for d := range g.shards {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	var out []model.DomainShard
	for _, d := range domains {
		for s := 0; s < g.shards[d]; s++ {
			out = append(out, model.DomainShard{Domain: d, Shard: s})
		}
	}
	return out
}
