package pathmap

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestIdentityReturnsInputForEveryAncestor(t *testing.T) {
	m := Identity()
	require.True(t, m.IsIdentity())
	for a := -1; a < 8; a++ {
		for p := model.Path(0); p < 16; p++ {
			got, err := m.Lookup(a, p)
			require.NoError(t, err)
			require.Equal(t, p, got, "ancestor %d", a)
		}
	}
	require.Nil(t, m.Table())
}

func TestZeroValueIsIdentity(t *testing.T) {
	var m PathMap
	require.True(t, m.IsIdentity())
	got, err := m.Lookup(3, 7)
	require.NoError(t, err)
	require.Equal(t, model.Path(7), got)
}

func TestLookupRemaps(t *testing.T) {
	m, err := New([][]model.Path{
		{0, 2},
		{1, 3, 4},
	})
	require.NoError(t, err)
	require.False(t, m.IsIdentity())
	require.Equal(t, 2, m.Ancestors())
	require.Equal(t, 3, m.Width(1))
	require.Equal(t, 0, m.Width(5))

	cases := []struct {
		ancestor int
		in, out  model.Path
	}{
		{0, 0, 0}, {0, 1, 2}, {1, 0, 1}, {1, 1, 3}, {1, 2, 4},
	}
	for _, c := range cases {
		got, err := m.Lookup(c.ancestor, c.in)
		require.NoError(t, err)
		require.Equal(t, c.out, got, "lookup(%d, %d)", c.ancestor, c.in)
	}
}

func TestLookupOutOfRangeIsTopologyMismatch(t *testing.T) {
	m, err := New([][]model.Path{{0, 1}})
	require.NoError(t, err)

	_, err = m.Lookup(1, 0)
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)
	require.True(t, errors.IsAssertionFailure(err))

	_, err = m.Lookup(-1, 0)
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)

	_, err = m.Lookup(0, 2)
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)

	// Ids that do not fit an int are still out of range.
	_, err = m.Lookup(0, 1<<63)
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)
}

func TestNewRejectsSparseOutgoingPaths(t *testing.T) {
	_, err := New([][]model.Path{{0, 2}})
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)

	_, err = New([][]model.Path{{0, 1 << 63}})
	require.True(t, errors.Is(err, clock.ErrTopologyMismatch), "got %v", err)
}

func TestNewCopiesTable(t *testing.T) {
	table := [][]model.Path{{1, 0}}
	m, err := New(table)
	require.NoError(t, err)
	table[0][0] = 0
	got, err := m.Lookup(0, 0)
	require.NoError(t, err)
	require.Equal(t, model.Path(1), got)

	out := m.Table()
	out[0][1] = 1
	got, err = m.Lookup(0, 1)
	require.NoError(t, err)
	require.Equal(t, model.Path(0), got)
}
