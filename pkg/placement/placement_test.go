package placement

import (
	"testing"

	"github.com/daviddao/pathclock/pkg/model"
	"github.com/stretchr/testify/require"
)

var workers = []model.WorkerID{"w-c", "w-a", "w-b"}

func TestRoundRobinCyclesSortedWorkers(t *testing.T) {
	r := NewRoundRobin(workers)
	var got []model.WorkerID
	for i := 0; i < 5; i++ {
		w, ok := r.PlaceDomain(model.DomainIndex(i), 0)
		require.True(t, ok)
		got = append(got, w)
	}
	require.Equal(t, []model.WorkerID{"w-a", "w-b", "w-c", "w-a", "w-b"}, got)
}

func TestShardIDIsModulo(t *testing.T) {
	s := NewShardID(workers)
	for d := 0; d < 3; d++ {
		for shard, want := range []model.WorkerID{"w-a", "w-b", "w-c", "w-a"} {
			w, ok := s.PlaceDomain(model.DomainIndex(d), shard)
			require.True(t, ok)
			require.Equal(t, want, w, "domain %d shard %d", d, shard)
		}
	}
}

func TestNoWorkers(t *testing.T) {
	for _, s := range []Strategy{NewRoundRobin(nil), NewShardID(nil), NewHash(nil, 4)} {
		_, ok := s.PlaceDomain(0, 0)
		require.False(t, ok, "%T", s)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	a := NewHash(workers, 16)
	b := NewHash([]model.WorkerID{"w-b", "w-c", "w-a"}, 16)
	for d := 0; d < 20; d++ {
		for s := 0; s < 4; s++ {
			wa, ok := a.PlaceDomain(model.DomainIndex(d), s)
			require.True(t, ok)
			wb, _ := b.PlaceDomain(model.DomainIndex(d), s)
			require.Equal(t, wa, wb)
			require.Contains(t, workers, wa)
		}
	}
}

func TestHashMovesOnlyRemovedWorkersShards(t *testing.T) {
	before := NewHash(workers, 64)
	after := NewHash([]model.WorkerID{"w-a", "w-b"}, 64)
	for d := 0; d < 50; d++ {
		w0, _ := before.PlaceDomain(model.DomainIndex(d), 0)
		w1, _ := after.PlaceDomain(model.DomainIndex(d), 0)
		if w0 != "w-c" {
			require.Equal(t, w0, w1, "domain %d moved off a surviving worker", d)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	for _, p := range []Policy{PolicyRoundRobin, PolicyShardID, PolicyHash, ""} {
		s, err := New(p, workers)
		require.NoError(t, err)
		_, ok := s.PlaceDomain(0, 0)
		require.True(t, ok)
	}
	_, err := New("random", workers)
	require.Error(t, err)
}

func TestNewWorkerIDs(t *testing.T) {
	ids := NewWorkerIDs(3)
	require.Len(t, ids, 3)
	require.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		require.Len(t, string(id), 10)
	}
}
