// Package nodetime holds the causal state of one (node, shard): its vector
// time, its path map and the grouping of its paths by write origin.
//
// A State is created once per (node, shard) at deployment time and is then
// owned by the single goroutine hosting that shard. It has exactly one
// state, active, from construction to teardown. ProcessUpdate is the only
// transition; IsConsistent and Status are pure queries usable between any
// two transitions.
package nodetime

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/pathmap"
)

// BaseGroup lists the local paths that all descend from one base-table
// shard. Redundant copies of a write from that origin arrive on each of
// these paths.
type BaseGroup struct {
	Origin model.Origin `json:"origin"`
	Paths  []model.Path `json:"paths"`
}

// Config describes the layout a State is built from.
type Config struct {
	// Widths is the number of incoming paths per ancestor ordinal. The
	// vector is the concatenation of these segments in ordinal order.
	Widths []int
	// Paths remaps (ancestor, incoming path) to the outgoing path.
	Paths pathmap.PathMap
	// Groups partitions local paths by origin. A path may belong to at most
	// one group.
	Groups []BaseGroup
}

// State is the full causal state of one (node, shard).
type State struct {
	time    *clock.VectorTime
	paths   pathmap.PathMap
	widths  []int
	offsets []int
	groups  []BaseGroup
}

// New builds a State with every path unobserved. It validates that the
// path map and the groups agree with the layout.
func New(cfg Config) (*State, error) {
	s := &State{
		paths:   cfg.Paths,
		widths:  append([]int(nil), cfg.Widths...),
		offsets: make([]int, len(cfg.Widths)),
	}
	slots := 0
	for a, w := range cfg.Widths {
		if w < 0 {
			return nil, clock.TopologyMismatchf("ancestor %d has negative width %d", a, w)
		}
		s.offsets[a] = slots
		slots += w
	}
	if cfg.Paths.IsIdentity() {
		// Identity sends every ancestor's path p out as p, so only one
		// ancestor can use it without two slots sharing an outgoing id.
		if len(cfg.Widths) > 1 {
			return nil, clock.TopologyMismatchf("identity path map for %d ancestors", len(cfg.Widths))
		}
	} else {
		if cfg.Paths.Ancestors() != len(cfg.Widths) {
			return nil, clock.TopologyMismatchf("path map covers %d ancestors, layout has %d",
				cfg.Paths.Ancestors(), len(cfg.Widths))
		}
		for a, w := range cfg.Widths {
			if cfg.Paths.Width(a) != w {
				return nil, clock.TopologyMismatchf("path map has %d paths for ancestor %d, layout has %d",
					cfg.Paths.Width(a), a, w)
			}
		}
	}

	owner := make(map[model.Path]model.Origin, slots)
	for _, g := range cfg.Groups {
		if len(g.Paths) == 0 {
			return nil, errors.AssertionFailedf("base group for origin %s has no paths", g.Origin)
		}
		for _, p := range g.Paths {
			if uint64(p) >= uint64(slots) {
				return nil, clock.TopologyMismatchf("group %s references path %d, node has %d paths",
					g.Origin, p, slots)
			}
			if prev, dup := owner[p]; dup {
				return nil, errors.AssertionFailedf("path %d is in groups %s and %s", p, prev, g.Origin)
			}
			owner[p] = g.Origin
		}
		s.groups = append(s.groups, BaseGroup{
			Origin: g.Origin,
			Paths:  append([]model.Path(nil), g.Paths...),
		})
	}
	sort.SliceStable(s.groups, func(i, j int) bool {
		return s.groups[i].Origin.Less(s.groups[j].Origin)
	})
	s.time = clock.WithLength(slots)
	return s, nil
}

// IsConsistent reports whether every base group's paths have applied the
// same number of updates. A group whose members disagree means some, but
// not all, copies of a write were applied: the state is torn. Linear in the
// number of (group, member) pairs.
func (s *State) IsConsistent() bool {
	for _, g := range s.groups {
		first := s.time.Applied(g.Paths[0])
		for _, p := range g.Paths[1:] {
			if s.time.Applied(p) != first {
				return false
			}
		}
	}
	return true
}

// ProcessUpdate is the per-update transition. It advances the local vector
// at c.Path within ancestor's segment, enforcing the gapless-successor rule,
// and returns the component to attach when forwarding: same time, path
// remapped through the path map. For ancestor 0, and for every single-input
// node, the local path is c.Path itself.
//
// On error nothing changes. Errors are invariant violations; the caller must
// stop processing for this shard.
func (s *State) ProcessUpdate(ancestor int, c model.TimeComponent) (model.TimeComponent, error) {
	if ancestor < 0 || ancestor >= len(s.widths) {
		return model.TimeComponent{}, clock.TopologyMismatchf("ancestor %d out of range: node has %d ancestors",
			ancestor, len(s.widths))
	}
	if uint64(c.Path) >= uint64(s.widths[ancestor]) {
		return model.TimeComponent{}, clock.TopologyMismatchf("path %d from ancestor %d out of range: ancestor has %d paths",
			c.Path, ancestor, s.widths[ancestor])
	}
	out, err := s.paths.Lookup(ancestor, c.Path)
	if err != nil {
		return model.TimeComponent{}, err
	}
	local := model.Path(s.offsets[ancestor]) + c.Path
	if err := s.time.Advance(model.TimeComponent{Path: local, Time: c.Time}); err != nil {
		return model.TimeComponent{}, errors.Wrapf(err, "ancestor %d", ancestor)
	}
	return model.TimeComponent{Path: out, Time: c.Time}, nil
}

// Time returns a copy of the local vector time.
func (s *State) Time() *clock.VectorTime { return s.time.Clone() }

// Paths returns the number of local paths.
func (s *State) Paths() int { return s.time.Len() }

// Ancestors returns the number of input streams.
func (s *State) Ancestors() int { return len(s.widths) }

// Groups returns a copy of the base groups, ordered by origin.
func (s *State) Groups() []BaseGroup {
	out := make([]BaseGroup, len(s.groups))
	for i, g := range s.groups {
		out[i] = BaseGroup{Origin: g.Origin, Paths: append([]model.Path(nil), g.Paths...)}
	}
	return out
}
