// Package deploy turns a finished graph into a Deployment: the path
// assignment snapshot plus a worker for every (domain, shard).
package deploy

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/placement"
)

// Options tune Plan.
type Options struct {
	Assign assign.Options
	// Now stamps the deployment; time.Now when nil.
	Now func() time.Time
}

// Deployment is a planned graph ready to run.
type Deployment struct {
	ID          int64 // assigned by the store; 0 until saved
	Graph       *graph.Graph
	Assignments *assign.PathAssignments
	Placement   map[model.DomainShard]model.WorkerID
	Created     time.Time
}

// Plan compiles path assignments for g and places every (domain, shard)
// with strategy.
func Plan(g *graph.Graph, strategy placement.Strategy, opts Options) (*Deployment, error) {
	pa, err := assign.Build(g, opts.Assign)
	if err != nil {
		return nil, errors.Wrap(err, "assign paths")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	d := &Deployment{
		Graph:       g,
		Assignments: pa,
		Placement:   make(map[model.DomainShard]model.WorkerID),
		Created:     now().UTC(),
	}
	for _, ds := range g.DomainShards() {
		w, ok := strategy.PlaceDomain(ds.Domain, ds.Shard)
		if !ok {
			return nil, errors.Mark(errors.Newf("cannot place %s", ds), placement.ErrPlacementUnavailable)
		}
		d.Placement[ds] = w
	}
	return d, nil
}

// WorkerFor returns the worker hosting (node, shard).
func (d *Deployment) WorkerFor(node model.NodeIndex, shard int) (model.WorkerID, bool) {
	if int(node) >= d.Graph.Len() {
		return "", false
	}
	w, ok := d.Placement[model.DomainShard{Domain: d.Graph.Node(node).Domain, Shard: shard}]
	return w, ok
}

// Workers returns the distinct workers in use and how many (domain, shard)
// pairs each hosts.
func (d *Deployment) Workers() map[model.WorkerID]int {
	out := make(map[model.WorkerID]int)
	for _, w := range d.Placement {
		out[w]++
	}
	return out
}
