// Package placement decides which worker hosts each (domain, shard).
//
// A Strategy is consulted once per (domain, shard) while a deployment is
// planned, in (domain, shard) order. Strategies may keep state between
// calls and are not safe for concurrent use.
package placement

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/google/uuid"
)

// ErrPlacementUnavailable is returned when a strategy has no worker to
// offer. It is recoverable: add workers and deploy again.
var ErrPlacementUnavailable = errors.New("no worker available for placement")

// Strategy places one shard of one domain. It reports false only when it
// has no workers.
type Strategy interface {
	PlaceDomain(domain model.DomainIndex, shard int) (model.WorkerID, bool)
}

// Policy names a built-in strategy.
type Policy string

const (
	PolicyRoundRobin Policy = "round-robin"
	PolicyShardID    Policy = "shard-id"
	PolicyHash       Policy = "hash"
)

// New returns the strategy for policy over workers.
func New(policy Policy, workers []model.WorkerID) (Strategy, error) {
	switch policy {
	case PolicyRoundRobin, "":
		return NewRoundRobin(workers), nil
	case PolicyShardID:
		return NewShardID(workers), nil
	case PolicyHash:
		return NewHash(workers, 0), nil
	default:
		return nil, errors.Newf("unknown placement policy %q (want %s, %s or %s)",
			policy, PolicyRoundRobin, PolicyShardID, PolicyHash)
	}
}

// RoundRobin hands out workers in sorted id order, wrapping around, and
// ignores the domain and shard it is asked about.
type RoundRobin struct {
	ids  []model.WorkerID
	next int
}

// NewRoundRobin cycles over workers.
func NewRoundRobin(workers []model.WorkerID) *RoundRobin {
	return &RoundRobin{ids: sortedIDs(workers)}
}

func (r *RoundRobin) PlaceDomain(model.DomainIndex, int) (model.WorkerID, bool) {
	if len(r.ids) == 0 {
		return "", false
	}
	w := r.ids[r.next]
	r.next = (r.next + 1) % len(r.ids)
	return w, true
}

// ShardID puts shard s of every domain on worker s mod n, so the same shard
// of different domains lands on the same worker.
type ShardID struct {
	ids []model.WorkerID
}

// NewShardID places by shard index over the sorted workers.
func NewShardID(workers []model.WorkerID) *ShardID {
	return &ShardID{ids: sortedIDs(workers)}
}

func (s *ShardID) PlaceDomain(_ model.DomainIndex, shard int) (model.WorkerID, bool) {
	if len(s.ids) == 0 || shard < 0 {
		return "", false
	}
	return s.ids[shard%len(s.ids)], true
}

func sortedIDs(workers []model.WorkerID) []model.WorkerID {
	ids := append([]model.WorkerID(nil), workers...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewWorkerIDs generates n random worker ids.
func NewWorkerIDs(n int) []model.WorkerID {
	out := make([]model.WorkerID, n)
	for i := range out {
		out[i] = model.WorkerID("w-" + uuid.NewString()[:8])
	}
	return out
}
