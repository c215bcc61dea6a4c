package nodetime

import (
	"encoding/json"
	"testing"

	"github.com/daviddao/pathclock/pkg/model"
)

func TestStatus_AgreesWithIsConsistent(t *testing.T) {
	s := mustState(t, Config{
		Widths: []int{3},
		Groups: []BaseGroup{{Origin: origin(0, 0), Paths: []model.Path{0, 1, 2}}},
	})
	steps := []struct {
		path uint64
		time uint64
	}{{0, 0}, {1, 0}, {2, 0}, {0, 1}, {2, 1}, {1, 1}}
	for _, st := range steps {
		if _, err := s.ProcessUpdate(0, comp(st.path, st.time)); err != nil {
			t.Fatal(err)
		}
		if got := s.Status().Consistent; got != s.IsConsistent() {
			t.Fatalf("after p%d@%d: Status().Consistent=%v, IsConsistent=%v",
				st.path, st.time, got, s.IsConsistent())
		}
	}
}

func TestStatus_ReportsLaggingPaths(t *testing.T) {
	s := mustState(t, Config{
		Widths: []int{4},
		Groups: []BaseGroup{
			{Origin: origin(0, 0), Paths: []model.Path{0, 1, 2}},
			{Origin: origin(2, 1), Paths: []model.Path{3}},
		},
	})
	drive(t, s, 0, 0, 3)
	drive(t, s, 0, 1, 1)
	drive(t, s, 0, 2, 3)
	drive(t, s, 0, 3, 4)

	st := s.Status()
	if st.Consistent {
		t.Fatal("expected torn status")
	}
	if len(st.TornBy) != 1 || st.TornBy[0] != origin(0, 0) {
		t.Fatalf("TornBy = %v, want [n0/0]", st.TornBy)
	}
	g := st.Groups[0]
	if g.Applied != 1 || g.Leading != 3 {
		t.Fatalf("applied/leading = %d/%d, want 1/3", g.Applied, g.Leading)
	}
	if len(g.Lagging) != 1 || g.Lagging[0] != 1 {
		t.Fatalf("Lagging = %v, want [1]", g.Lagging)
	}
	if st.Groups[1].Torn() {
		t.Fatal("single-path group can never be torn")
	}

	if g := st.Groups[1]; g.Origin != origin(2, 1) || g.Applied != 4 {
		t.Fatalf("group n2/1: got %s applied %d, want applied 4", g.Origin, g.Applied)
	}
}

func TestStatus_JSONOmitsEmptyLagging(t *testing.T) {
	s := mustState(t, Config{
		Widths: []int{1},
		Groups: []BaseGroup{{Origin: origin(0, 0), Paths: []model.Path{0}}},
	})
	b, err := json.Marshal(s.Status())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"consistent":true,"groups":[{"origin":{"node":0,"shard":0},"paths":[0],"applied":0,"leading":0}]}`
	if string(b) != want {
		t.Fatalf("json = %s\nwant   %s", b, want)
	}
}
