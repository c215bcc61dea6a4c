package nodetime

import "github.com/daviddao/pathclock/pkg/model"

// GroupStatus is the progress of one base group. Applied is the minimum
// number of updates applied across the group's paths: every write from the
// origin up to that count has been applied along every route. Leading is
// the maximum. Paths strictly behind Leading are Lagging.
type GroupStatus struct {
	Origin  model.Origin `json:"origin"`
	Paths   []model.Path `json:"paths"`
	Applied uint64       `json:"applied"`
	Leading uint64       `json:"leading"`
	Lagging []model.Path `json:"lagging,omitempty"`
}

// Torn reports whether the group's paths disagree.
func (g GroupStatus) Torn() bool { return g.Applied != g.Leading }

// Status is the result of a consistency check with the detail a read path
// needs to decide whether to serve, block or retry.
type Status struct {
	Consistent bool           `json:"consistent"`
	Groups     []GroupStatus  `json:"groups"`
	TornBy     []model.Origin `json:"torn_by,omitempty"`
}

// Status computes per-group progress. Consistent agrees with IsConsistent.
func (s *State) Status() Status {
	st := Status{Consistent: true, Groups: make([]GroupStatus, 0, len(s.groups))}
	for _, g := range s.groups {
		gs := GroupStatus{
			Origin: g.Origin,
			Paths:  append([]model.Path(nil), g.Paths...),
		}
		gs.Applied = s.stable(g)
		for _, p := range g.Paths {
			if n := s.time.Applied(p); n > gs.Leading {
				gs.Leading = n
			}
		}
		for _, p := range g.Paths {
			if s.time.Applied(p) < gs.Leading {
				gs.Lagging = append(gs.Lagging, p)
			}
		}
		if gs.Torn() {
			st.Consistent = false
			st.TornBy = append(st.TornBy, g.Origin)
		}
		st.Groups = append(st.Groups, gs)
	}
	return st
}

// stable returns how many writes from g's origin have been applied along
// every route into this node.
func (s *State) stable(g BaseGroup) (n uint64) {
	for i, p := range g.Paths {
		a := s.time.Applied(p)
		if i == 0 || a < n {
			n = a
		}
	}
	return n
}
