// Package pathmap translates the path ids a node receives from its
// ancestors into the path ids it attaches when forwarding.
//
// Every node speaks its own path dialect. A PathMap is indexed first by
// ancestor ordinal and then by that ancestor's path id; the identity map is
// used by pass-through nodes whose path space is unchanged.
package pathmap

import (
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/model"
)

// PathMap maps (ancestor, incoming path) to an outgoing path. The zero value
// is the identity map. A PathMap is immutable once built.
type PathMap struct {
	table [][]model.Path
}

// Identity returns the map that leaves every path unchanged.
func Identity() PathMap { return PathMap{} }

// New builds a remapping table. table[a][p] is the outgoing path for
// updates arriving from ancestor a on path p. The table is copied. Outgoing
// ids must be dense: together they cover 0..n-1 for some n.
func New(table [][]model.Path) (PathMap, error) {
	t := make([][]model.Path, len(table))
	var max model.Path
	n := 0
	for a, row := range table {
		t[a] = append([]model.Path(nil), row...)
		for _, p := range row {
			if n == 0 || p > max {
				max = p
			}
			n++
		}
	}
	if n > 0 {
		if uint64(max) >= uint64(n) {
			return PathMap{}, clock.TopologyMismatchf(
				"outgoing paths are not dense: max %d from %d entries", max, n)
		}
		seen := make([]bool, int(max)+1)
		for _, row := range t {
			for _, p := range row {
				seen[p] = true
			}
		}
		for p, ok := range seen {
			if !ok {
				return PathMap{}, clock.TopologyMismatchf(
					"outgoing paths are not dense: path %d unused below max %d", p, max)
			}
		}
	}
	return PathMap{table: t}, nil
}

// IsIdentity reports whether this is the no-remapping map.
func (m PathMap) IsIdentity() bool { return m.table == nil }

// Lookup returns the outgoing path for updates from ancestor on incoming.
// The identity map ignores ancestor. An out-of-range ancestor or path means
// the map disagrees with the graph and is reported as ErrTopologyMismatch.
func (m PathMap) Lookup(ancestor int, incoming model.Path) (model.Path, error) {
	if m.table == nil {
		return incoming, nil
	}
	if ancestor < 0 || ancestor >= len(m.table) {
		return 0, clock.TopologyMismatchf("ancestor %d out of range: map has %d ancestors",
			ancestor, len(m.table))
	}
	row := m.table[ancestor]
	if uint64(incoming) >= uint64(len(row)) {
		return 0, clock.TopologyMismatchf("path %d from ancestor %d out of range: ancestor has %d paths",
			incoming, ancestor, len(row))
	}
	return row[incoming], nil
}

// Ancestors returns the number of ancestors in the table (0 for identity).
func (m PathMap) Ancestors() int { return len(m.table) }

// Width returns how many incoming paths ancestor a has in the table.
func (m PathMap) Width(a int) int {
	if a < 0 || a >= len(m.table) {
		return 0
	}
	return len(m.table[a])
}

// Table returns a copy of the remapping table, nil for identity.
func (m PathMap) Table() [][]model.Path {
	if m.table == nil {
		return nil
	}
	t := make([][]model.Path, len(m.table))
	for a, row := range m.table {
		t[a] = append([]model.Path(nil), row...)
	}
	return t
}
