package clock

import "github.com/cockroachdb/errors"

// Invariant violations in the clock layer. They are returned as assertion
// failures marked with one of these sentinels, so callers can test the kind
// with errors.Is and the class with errors.IsAssertionFailure. None of them
// is recoverable for the shard that reports it: the shard must stop and be
// redeployed.
var (
	// ErrOrderingInvariant: a path was registered out of dense order.
	ErrOrderingInvariant = errors.New("path registered out of order")
	// ErrSequenceGap: a path's time did not advance by exactly one.
	ErrSequenceGap = errors.New("time component is not the gapless successor")
	// ErrDuplicateGenerator: a timestamp assigner was cloned after use.
	ErrDuplicateGenerator = errors.New("timestamp assigner cloned after use")
	// ErrTopologyMismatch: an ancestor or path id is outside the configured
	// topology.
	ErrTopologyMismatch = errors.New("path assignment disagrees with topology")
)

// violation builds an assertion failure marked with kind.
func violation(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), kind)
}

// TopologyMismatchf reports an ancestor or path outside the configured
// topology. Exported for the path map and node state, which share the kind.
func TopologyMismatchf(format string, args ...interface{}) error {
	return violation(ErrTopologyMismatch, format, args...)
}
