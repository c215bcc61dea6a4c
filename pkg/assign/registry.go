package assign

import (
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/nodetime"
)

// Registry holds the published snapshot. Readers never block; a redeploy
// replaces the snapshot whole.
type Registry struct {
	cur atomic.Pointer[PathAssignments]
}

// Publish makes pa the current snapshot and returns the previous one.
func (r *Registry) Publish(pa *PathAssignments) *PathAssignments {
	return r.cur.Swap(pa)
}

// Current returns the published snapshot, nil before the first Publish.
func (r *Registry) Current() *PathAssignments {
	return r.cur.Load()
}

// Restore rebuilds a snapshot from persisted assignments. Shards of each
// node must be dense from 0, and every assignment must describe a layout
// nodetime accepts.
func Restore(entries []Assignment) (*PathAssignments, error) {
	sorted := append([]Assignment(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key.Less(sorted[j].Key) })

	pa := newAssignments()
	var cur *nodeEntry
	for _, a := range sorted {
		if cur == nil || cur.node != a.Key.Node {
			if cur != nil {
				pa.nodes.ReplaceOrInsert(cur)
			}
			cur = &nodeEntry{node: a.Key.Node}
		}
		if a.Key.Shard != len(cur.shards) {
			return nil, errors.Wrapf(clock.TopologyMismatchf("shard %d follows %d shards", a.Key.Shard, len(cur.shards)),
				"restore %s", a.Key)
		}
		if err := validate(a); err != nil {
			return nil, errors.Wrapf(err, "restore %s", a.Key)
		}
		cur.shards = append(cur.shards, a)
	}
	if cur != nil {
		pa.nodes.ReplaceOrInsert(cur)
	}
	return pa, nil
}

func validate(a Assignment) error {
	if len(a.Inputs) != len(a.Widths) {
		return clock.TopologyMismatchf("%d inputs but %d widths", len(a.Inputs), len(a.Widths))
	}
	if len(a.Inputs) == 0 {
		if len(a.Routes) != 1 || a.Routes[0] != model.Origin(a.Key) {
			return clock.TopologyMismatchf("base shard must originate exactly its own path, has %v", a.Routes)
		}
		return nil
	}
	if len(a.Routes) != a.Slots() {
		return clock.TopologyMismatchf("%d routes for %d slots", len(a.Routes), a.Slots())
	}
	_, err := nodetime.New(a.Config())
	return err
}
