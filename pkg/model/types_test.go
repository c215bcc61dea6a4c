package model

import (
	"sort"
	"testing"
)

func TestTimeComponent_String(t *testing.T) {
	c := TimeComponent{Path: 3, Time: 12}
	if got := c.String(); got != "p3@12" {
		t.Fatalf("String() = %q, want %q", got, "p3@12")
	}
}

func TestShardKey_Less(t *testing.T) {
	cases := []struct {
		name   string
		a, b   ShardKey
		expect bool
	}{
		{"lower node", ShardKey{1, 5}, ShardKey{2, 0}, true},
		{"same node lower shard", ShardKey{2, 0}, ShardKey{2, 1}, true},
		{"equal", ShardKey{2, 1}, ShardKey{2, 1}, false},
		{"higher node", ShardKey{3, 0}, ShardKey{2, 9}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Less(tc.b); got != tc.expect {
				t.Fatalf("%v.Less(%v) = %v, want %v", tc.a, tc.b, got, tc.expect)
			}
		})
	}
}

func TestShardKey_SortIsTotal(t *testing.T) {
	keys := []ShardKey{{2, 1}, {0, 3}, {2, 0}, {1, 0}, {0, 0}}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	want := []ShardKey{{0, 0}, {0, 3}, {1, 0}, {2, 0}, {2, 1}}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("sorted[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestOriginPathIsZero(t *testing.T) {
	if OriginPath != 0 {
		t.Fatalf("OriginPath = %d, want 0", OriginPath)
	}
}

func TestStringers(t *testing.T) {
	if got := (ShardKey{Node: 4, Shard: 2}).String(); got != "n4/2" {
		t.Fatalf("ShardKey.String() = %q", got)
	}
	if got := (DomainShard{Domain: 1, Shard: 0}).String(); got != "d1/0" {
		t.Fatalf("DomainShard.String() = %q", got)
	}
}
