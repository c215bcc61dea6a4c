package clock

import (
	"fmt"
	"math"
	"strings"

	"github.com/daviddao/pathclock/pkg/model"
)

// VectorTime records, per locally known path, how far that path has
// progressed. Slots are dense in path order and only ever appended.
//
// Each slot stores the number of updates applied on its path, which is one
// more than the latest time observed. A slot that has seen nothing holds 0,
// so the first update on a path (time 0) is its gapless successor.
type VectorTime struct {
	applied []uint64
}

// NewVectorTime returns an empty vector.
func NewVectorTime() *VectorTime {
	return &VectorTime{}
}

// WithLength returns a vector with n unobserved paths.
func WithLength(n int) *VectorTime {
	return &VectorTime{applied: make([]uint64, n)}
}

// Len returns the number of known paths.
func (v *VectorTime) Len() int { return len(v.applied) }

// Extend registers a newly discovered path whose latest observed time is
// c.Time. c.Path must equal Len(): paths are registered in strictly
// increasing, gapless order. The largest Time has no successor and is
// refused.
func (v *VectorTime) Extend(c model.TimeComponent) error {
	if uint64(c.Path) != uint64(len(v.applied)) {
		return violation(ErrOrderingInvariant,
			"cannot register path %d: next path id is %d", c.Path, len(v.applied))
	}
	if c.Time == model.Time(math.MaxUint64) {
		return violation(ErrSequenceGap, "cannot register path %d at time %d: no successor", c.Path, c.Time)
	}
	v.applied = append(v.applied, uint64(c.Time)+1)
	return nil
}

// Advance implements R2 for c.Path. c.Time must be exactly one past the
// latest time observed on that path (0 for an unobserved path).
func (v *VectorTime) Advance(c model.TimeComponent) error {
	if uint64(c.Path) >= uint64(len(v.applied)) {
		return TopologyMismatchf("path %d out of range: vector has %d paths", c.Path, len(v.applied))
	}
	want := v.applied[c.Path]
	if want == math.MaxUint64 {
		return violation(ErrSequenceGap, "path %d: time exhausted at %d", c.Path, want-1)
	}
	if uint64(c.Time) != want {
		if want == 0 {
			return violation(ErrSequenceGap,
				"path %d: got time %d, want 0 (no update observed yet)", c.Path, c.Time)
		}
		return violation(ErrSequenceGap,
			"path %d: got time %d after %d, want %d", c.Path, c.Time, want-1, want)
	}
	v.applied[c.Path]++
	return nil
}

// At returns the latest time observed on p. ok is false when p is unknown or
// has not observed an update yet.
func (v *VectorTime) At(p model.Path) (t model.Time, ok bool) {
	if uint64(p) >= uint64(len(v.applied)) || v.applied[p] == 0 {
		return 0, false
	}
	return model.Time(v.applied[p] - 1), true
}

// Applied returns how many updates p has observed, or 0 for unknown paths.
func (v *VectorTime) Applied(p model.Path) uint64 {
	if uint64(p) >= uint64(len(v.applied)) {
		return 0
	}
	return v.applied[p]
}

// Clone returns a deep copy.
func (v *VectorTime) Clone() *VectorTime {
	return &VectorTime{applied: append([]uint64(nil), v.applied...)}
}

// Equal reports whether both vectors know the same paths at the same times.
func (v *VectorTime) Equal(other *VectorTime) bool {
	if len(v.applied) != len(other.applied) {
		return false
	}
	for i := range v.applied {
		if v.applied[i] != other.applied[i] {
			return false
		}
	}
	return true
}

// String renders the latest time per path, "-" for unobserved paths:
// [0:4 1:- 2:7].
func (v *VectorTime) String() string {
	parts := make([]string, len(v.applied))
	for i, n := range v.applied {
		if n == 0 {
			parts[i] = fmt.Sprintf("%d:-", i)
		} else {
			parts[i] = fmt.Sprintf("%d:%d", i, n-1)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
