// Package model defines the core value types for pathclock.
//
// pathclock tracks causal consistency in a sharded dataflow that maintains
// materialized views. Two ideas carry the design:
//
//   - Per-path logical time: every write entering at a base table is stamped
//     with a gapless counter. As the update moves through the graph it is
//     tagged with a (path, time) pair, where the path names one delivery
//     route and the time counts the updates seen on that route.
//
//   - Torn-state detection: when the graph duplicates routes (fan-out,
//     re-sharding, redundancy) one logical write reaches a node along several
//     paths. Paths that descend from the same origin form a group; a node
//     whose group members disagree has applied some copies of a write but not
//     all of them.
//
// Node and shard identifiers are dense indices into an arena owned by the
// graph, so records refer to each other by number rather than by pointer.
package model

import "fmt"

// Time counts the writes observed on one path. It advances by exactly one
// per step.
type Time uint64

// Path names one causal delivery route. Path ids are scoped to the
// (node, shard) that interprets them and are dense from 0.
type Path uint64

// OriginPath is the path every base table stamps its writes with. The base
// does not know how its output will be renumbered downstream.
const OriginPath Path = 0

// TimeComponent is the unit attached to an in-flight update: this update is
// the Time-th event observed on Path.
type TimeComponent struct {
	Path Path `json:"path"`
	Time Time `json:"time"`
}

func (c TimeComponent) String() string {
	return fmt.Sprintf("p%d@%d", c.Path, c.Time)
}

// NodeIndex is a node's position in the graph arena.
type NodeIndex uint32

// DomainIndex identifies a domain: the unit of placement on workers.
type DomainIndex uint32

// WorkerID names a physical worker.
type WorkerID string

// ShardKey addresses one shard of one node.
type ShardKey struct {
	Node  NodeIndex `json:"node"`
	Shard int       `json:"shard"`
}

func (k ShardKey) String() string {
	return fmt.Sprintf("n%d/%d", k.Node, k.Shard)
}

// Less orders shard keys by node, then shard.
func (k ShardKey) Less(other ShardKey) bool {
	if k.Node != other.Node {
		return k.Node < other.Node
	}
	return k.Shard < other.Shard
}

// Origin identifies the base-table shard a path descends from.
type Origin = ShardKey

// DomainShard addresses one shard of one domain, the granularity at which
// work is placed on workers.
type DomainShard struct {
	Domain DomainIndex `json:"domain"`
	Shard  int         `json:"shard"`
}

func (d DomainShard) String() string {
	return fmt.Sprintf("d%d/%d", d.Domain, d.Shard)
}
