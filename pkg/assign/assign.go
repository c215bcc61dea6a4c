// Package assign computes path assignments for a finished graph: for every
// (node, shard) the ordered input streams, the layout of its vector time,
// its path map and the grouping of its paths by origin.
//
// A PathAssignments value is an immutable snapshot. It is built once per
// deployment and shared read-only by every shard; a redeploy builds a new
// snapshot and swaps it whole through a Registry.
package assign

import (
	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/nodetime"
	"github.com/daviddao/pathclock/pkg/pathmap"
	"github.com/google/btree"
)

// ErrPathBudget is returned when some (node, shard) would need more paths
// than Options.MaxPaths allows. The graph has to be redesigned; nothing is
// deployed.
var ErrPathBudget = errors.New("path budget exceeded")

// Options tune Build.
type Options struct {
	// MaxPaths bounds the number of vector slots per (node, shard). Zero
	// means unbounded.
	MaxPaths int
}

// Assignment is the layout of one (node, shard).
type Assignment struct {
	Key model.ShardKey `json:"key"`
	// Inputs lists the input streams; the index is the ancestor ordinal.
	Inputs []graph.Input `json:"inputs,omitempty"`
	// Widths is the number of paths per input stream.
	Widths []int `json:"widths,omitempty"`
	// Map translates incoming paths to outgoing paths.
	Map pathmap.PathMap `json:"-"`
	// Groups partitions the local slots by origin.
	Groups []nodetime.BaseGroup `json:"groups,omitempty"`
	// Routes gives the origin of every outgoing path, indexed by path id.
	Routes []model.Origin `json:"routes"`
}

// Slots returns the number of vector slots.
func (a Assignment) Slots() int {
	n := 0
	for _, w := range a.Widths {
		n += w
	}
	return n
}

// Config returns the nodetime layout for this assignment.
func (a Assignment) Config() nodetime.Config {
	return nodetime.Config{Widths: a.Widths, Paths: a.Map, Groups: a.Groups}
}

type nodeEntry struct {
	node   model.NodeIndex
	shards []Assignment
}

func lessEntry(a, b *nodeEntry) bool { return a.node < b.node }

// PathAssignments is the whole-graph snapshot, ordered by node index.
type PathAssignments struct {
	nodes *btree.BTreeG[*nodeEntry]
}

func newAssignments() *PathAssignments {
	return &PathAssignments{nodes: btree.NewG[*nodeEntry](8, lessEntry)}
}

// Build compiles g into path assignments. Arena order is topological, so
// each node is computed from the already finished outgoing routes of its
// ancestors.
func Build(g *graph.Graph, opts Options) (*PathAssignments, error) {
	pa := newAssignments()
	for i := 0; i < g.Len(); i++ {
		idx := model.NodeIndex(i)
		n := g.Node(idx)
		e := &nodeEntry{node: idx, shards: make([]Assignment, n.Shards)}
		for s := 0; s < n.Shards; s++ {
			key := model.ShardKey{Node: idx, Shard: s}
			if n.Base {
				e.shards[s] = Assignment{Key: key, Routes: []model.Origin{key}}
				continue
			}
			a, err := pa.compile(key, g.Inputs(idx, s))
			if err != nil {
				return nil, errors.Wrapf(err, "node %q", n.Name)
			}
			if opts.MaxPaths > 0 && a.Slots() > opts.MaxPaths {
				return nil, errors.Mark(
					errors.Newf("node %q shard %d needs %d paths, budget is %d", n.Name, s, a.Slots(), opts.MaxPaths),
					ErrPathBudget)
			}
			e.shards[s] = a
		}
		pa.nodes.ReplaceOrInsert(e)
	}
	return pa, nil
}

// compile lays out a non-base (node, shard). Stream i's paths occupy slots
// offset_i..offset_i+width_i-1, and the outgoing id of a path is its slot.
func (pa *PathAssignments) compile(key model.ShardKey, inputs []graph.Input) (Assignment, error) {
	a := Assignment{Key: key, Inputs: inputs, Widths: make([]int, len(inputs))}
	table := make([][]model.Path, len(inputs))
	for i, in := range inputs {
		up, ok := pa.Get(in.Node, in.Shard)
		if !ok {
			return Assignment{}, clock.TopologyMismatchf("input %s of %s has no assignment", in, key)
		}
		a.Widths[i] = len(up.Routes)
		table[i] = make([]model.Path, len(up.Routes))
		for p, o := range up.Routes {
			table[i][p] = model.Path(len(a.Routes))
			a.Routes = append(a.Routes, o)
		}
	}
	if len(inputs) > 1 {
		m, err := pathmap.New(table)
		if err != nil {
			return Assignment{}, err
		}
		a.Map = m
	}
	a.Groups = groupByOrigin(a.Routes)
	return a, nil
}

// groupByOrigin collects slots by the origin they descend from, ordered by
// origin.
func groupByOrigin(routes []model.Origin) []nodetime.BaseGroup {
	byOrigin := btree.NewG[*nodetime.BaseGroup](4, func(a, b *nodetime.BaseGroup) bool {
		return a.Origin.Less(b.Origin)
	})
	for p, o := range routes {
		g, ok := byOrigin.Get(&nodetime.BaseGroup{Origin: o})
		if !ok {
			g = &nodetime.BaseGroup{Origin: o}
			byOrigin.ReplaceOrInsert(g)
		}
		g.Paths = append(g.Paths, model.Path(p))
	}
	var out []nodetime.BaseGroup
	byOrigin.Ascend(func(g *nodetime.BaseGroup) bool {
		out = append(out, *g)
		return true
	})
	return out
}

// Get returns the assignment for (node, shard).
func (pa *PathAssignments) Get(node model.NodeIndex, shard int) (Assignment, bool) {
	e, ok := pa.nodes.Get(&nodeEntry{node: node})
	if !ok || shard < 0 || shard >= len(e.shards) {
		return Assignment{}, false
	}
	return e.shards[shard], true
}

// MakeNodeState builds the initial causal state of (node, shard). It is a
// pure read of the snapshot; each call returns a fresh State.
func (pa *PathAssignments) MakeNodeState(node model.NodeIndex, shard int) (*nodetime.State, error) {
	a, ok := pa.Get(node, shard)
	if !ok {
		return nil, clock.TopologyMismatchf("no path assignment for %s", model.ShardKey{Node: node, Shard: shard})
	}
	return nodetime.New(a.Config())
}

// Shards returns the shard count of node, 0 if unknown.
func (pa *PathAssignments) Shards(node model.NodeIndex) int {
	e, ok := pa.nodes.Get(&nodeEntry{node: node})
	if !ok {
		return 0
	}
	return len(e.shards)
}

// Len returns the number of nodes.
func (pa *PathAssignments) Len() int { return pa.nodes.Len() }

// Ascend calls fn for every assignment in (node, shard) order until fn
// returns false.
func (pa *PathAssignments) Ascend(fn func(Assignment) bool) {
	pa.nodes.Ascend(func(e *nodeEntry) bool {
		for _, a := range e.shards {
			if !fn(a) {
				return false
			}
		}
		return true
	})
}

// Entries returns every assignment in (node, shard) order.
func (pa *PathAssignments) Entries() []Assignment {
	var out []Assignment
	pa.Ascend(func(a Assignment) bool {
		out = append(out, a)
		return true
	})
	return out
}

// MaxSlots returns the widest (node, shard) in the snapshot.
func (pa *PathAssignments) MaxSlots() int {
	max := 0
	pa.Ascend(func(a Assignment) bool {
		if n := a.Slots(); n > max {
			max = n
		}
		return true
	})
	return max
}
