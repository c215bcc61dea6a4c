// Package clock implements the per-path logical time used for consistency
// tracking.
//
// Two rules govern it:
//
//	R1 (origin): a base table stamps each new write with the next value of
//	    its TimestampAssigner, starting at 0, on the origin path.
//	R2 (receipt): a node receiving the time-th update on a path requires
//	    that it already saw the (time-1)-th one, and records time.
//
// R2 makes the vector the cheapest possible integrity check for "exactly
// one update at a time, in order, per path". Any replay, drop or reorder is
// reported immediately instead of being absorbed as drift.
//
// Note: neither type is goroutine-safe. Each instance is owned by the one
// goroutine hosting its (node, shard); exclusivity is a deployment-time
// guarantee, not a lock.
package clock

import "github.com/daviddao/pathclock/pkg/model"

// TimestampAssigner is the single source of new logical time for one
// lineage of writes. Owned by exactly one base-table shard; see Clone.
type TimestampAssigner struct {
	next model.Time
}

// Assign implements R1: it returns the next time on the origin path. The
// first call returns time 0.
func (a *TimestampAssigner) Assign() model.TimeComponent {
	c := model.TimeComponent{Path: model.OriginPath, Time: a.next}
	a.next++
	return c
}

// Issued returns how many timestamps this assigner has handed out.
func (a *TimestampAssigner) Issued() uint64 { return uint64(a.next) }

// Clone returns an independent assigner starting at 0. Cloning an assigner
// that already issued a timestamp would put two generators on the same
// path, so it fails with ErrDuplicateGenerator.
func (a *TimestampAssigner) Clone() (*TimestampAssigner, error) {
	if a.next != 0 {
		return nil, violation(ErrDuplicateGenerator,
			"cannot clone timestamp assigner after %d timestamps were issued", a.next)
	}
	return &TimestampAssigner{}, nil
}
