package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/daviddao/pathclock/pkg/config"
	"github.com/daviddao/pathclock/pkg/flow"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/placement"
	"github.com/daviddao/pathclock/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
)

const fanGraph = `{"nodes": [
	{"name": "votes", "base": true, "shards": 1, "domain": 0},
	{"name": "fan", "shards": 2, "domain": 1, "inputs": [{"from": "votes"}]},
	{"name": "merge", "shards": 1, "domain": 2, "inputs": [{"from": "fan"}]}
]}`

func newTestApp(t *testing.T) *app {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &app{
		store: s,
		cfg:   config.Config{DB: dbPath, Placement: placement.PolicyRoundRobin, Inbox: 16},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeGraph(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// deployedApp returns an app with fanGraph deployed over two workers.
func deployedApp(t *testing.T) *app {
	t.Helper()
	a := newTestApp(t)
	path := writeGraph(t, fanGraph)
	var code int
	captureStdout(t, func() { code = a.run("deploy", []string{"--graph", path, "--workers", "a,b"}) })
	if code != 0 {
		t.Fatalf("deploy: exit %d", code)
	}
	return a
}

// --- parseShardRef tests ---

func TestParseShardRef(t *testing.T) {
	g, err := graph.Decode(strings.NewReader(fanGraph))
	if err != nil {
		t.Fatal(err)
	}
	got, err := parseShardRef(g, "fan/1")
	if err != nil || got != (model.ShardKey{Node: 1, Shard: 1}) {
		t.Fatalf("fan/1: got %v, err=%v", got, err)
	}
	got, err = parseShardRef(g, "merge")
	if err != nil || got != (model.ShardKey{Node: 2, Shard: 0}) {
		t.Fatalf("merge: got %v, err=%v", got, err)
	}
	for _, ref := range []string{"nope", "fan/2", "fan/-1", "fan/x"} {
		if _, err := parseShardRef(g, ref); err == nil {
			t.Fatalf("parseShardRef(%q) should fail", ref)
		}
	}
	if name := shardName(g, model.ShardKey{Node: 1, Shard: 0}); name != "fan/0" {
		t.Fatalf("shardName: got %q", name)
	}
}

// --- deploy tests ---

func TestDeploy_SavesDeployment(t *testing.T) {
	a := deployedApp(t)
	sums, err := a.store.ListDeployments(0)
	if err != nil || len(sums) != 1 {
		t.Fatalf("ListDeployments: %v, err=%v", sums, err)
	}
	if sums[0].Nodes != 3 || sums[0].Shards != 4 || sums[0].MaxSlots != 2 {
		t.Fatalf("summary: %+v", sums[0])
	}
	if cur := a.snapshots.Current(); cur == nil || cur.MaxSlots() != 2 {
		t.Fatalf("deploy did not publish its path assignments: %v", cur)
	}
}

func TestDeploy_Errors(t *testing.T) {
	a := newTestApp(t)
	cases := map[string][]string{
		"no graph":    nil,
		"missing":     {"--graph", filepath.Join(t.TempDir(), "none.json")},
		"bad graph":   {"--graph", writeGraph(t, `{"nodes": [{"name": "x"}]}`)},
		"budget":      {"--graph", writeGraph(t, fanGraph), "--max-paths", "1"},
		"bad policy":  {"--graph", writeGraph(t, fanGraph), "--placement", "random"},
		"dup workers": {"--graph", writeGraph(t, fanGraph), "--workers", "a,a"},
	}
	for name, args := range cases {
		var code int
		captureStderr(t, func() { code = a.run("deploy", args) })
		if code != 1 {
			t.Fatalf("%s: exit %d, want 1", name, code)
		}
	}
	sums, _ := a.store.ListDeployments(0)
	if len(sums) != 0 {
		t.Fatalf("failed deploys saved %d deployment(s)", len(sums))
	}
}

// --- show / status / deployments tests ---

func TestShowStatusDeployments(t *testing.T) {
	a := deployedApp(t)

	out := captureStdout(t, func() {
		if code := a.run("show", nil); code != 0 {
			t.Errorf("show: exit %d", code)
		}
	})
	if !strings.Contains(out, "merge/0") {
		t.Fatalf("show: missing merge/0 in %q", out)
	}

	out = captureStdout(t, func() {
		if code := a.run("status", nil); code != 0 {
			t.Errorf("status: exit %d", code)
		}
	})
	if !strings.Contains(out, "1 group(s) receive redundant copies") {
		t.Fatalf("status: got %q", out)
	}

	out = captureStdout(t, func() {
		if code := a.run("ls", []string{"--json"}); code != 0 {
			t.Errorf("ls: exit %d", code)
		}
	})
	if !strings.Contains(out, `"max_slots": 2`) {
		t.Fatalf("ls --json: got %q", out)
	}
}

func TestStatus_NoDeployment(t *testing.T) {
	a := newTestApp(t)
	var code int
	captureStderr(t, func() { code = a.run("status", nil) })
	if code != 1 {
		t.Fatalf("status without deployments: exit %d, want 1", code)
	}
}

// --- simulate tests ---

func TestSimulate_Consistent(t *testing.T) {
	a := deployedApp(t)
	planned := a.snapshots.Current()
	var code int
	out := captureStdout(t, func() { code = a.run("simulate", []string{"--writes", "5", "--check"}) })
	if code != 0 {
		t.Fatalf("simulate: exit %d, output %q", code, out)
	}
	if !strings.Contains(out, "0 of 3 shard(s) torn") {
		t.Fatalf("simulate: got %q", out)
	}
	// simulate runs from the snapshot it loaded from the store.
	if cur := a.snapshots.Current(); cur == nil || cur == planned || cur.Len() != 3 {
		t.Fatalf("simulate did not publish the loaded snapshot: %v", cur)
	}
}

func TestSimulate_HeldLinkTears(t *testing.T) {
	a := deployedApp(t)
	var code int
	out := captureStdout(t, func() {
		code = a.run("simulate", []string{"--writes", "3", "--hold", "fan/1:merge", "--check"})
	})
	if code != 2 {
		t.Fatalf("simulate --check with held link: exit %d, want 2", code)
	}
	if !strings.Contains(out, "merge/0") || !strings.Contains(out, "TORN") {
		t.Fatalf("simulate: got %q", out)
	}
	if !strings.Contains(out, "applied 0, leading 3") {
		t.Fatalf("simulate: missing group detail in %q", out)
	}

	// Without --check a torn result is not an error.
	captureStdout(t, func() { code = a.run("simulate", []string{"--hold", "fan/1:merge"}) })
	if code != 0 {
		t.Fatalf("simulate without --check: exit %d", code)
	}
}

func TestSimulate_DroppedUpdatesStopShard(t *testing.T) {
	a := deployedApp(t)
	var code int
	var out string
	errOut := captureStderr(t, func() {
		out = captureStdout(t, func() {
			code = a.run("simulate", []string{"--writes", "2", "--hold", "fan/1:merge", "--drop"})
		})
	})
	if code != 1 {
		t.Fatalf("simulate --drop: exit %d, want 1", code)
	}
	if !strings.Contains(out, "STOPPED") {
		t.Fatalf("simulate --drop: stdout %q", out)
	}
	if !strings.Contains(errOut, "got time 2, want 0") {
		t.Fatalf("simulate --drop: stderr %q", errOut)
	}
}

func TestSimulate_BadFlags(t *testing.T) {
	a := deployedApp(t)
	for _, args := range [][]string{
		{"--hold", "fan/1"},
		{"--hold", "fan/9:merge"},
		{"--hold", "merge:fan/0"},
		{"--id", "42"},
	} {
		var code int
		captureStderr(t, func() { code = a.run("simulate", args) })
		if code != 1 {
			t.Fatalf("simulate %v: exit %d, want 1", args, code)
		}
	}
}

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := flow.NewMetrics(reg)
	m.Assigned.Add(1200)
	out := captureStderr(t, func() { printMetrics(reg) })
	if !strings.Contains(out, "pathclock_timestamps_assigned_total{} 1,200") {
		t.Fatalf("printMetrics: got %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	a := newTestApp(t)
	var code int
	captureStderr(t, func() { code = a.run("frobnicate", nil) })
	if code != 1 {
		t.Fatalf("unknown command: exit %d", code)
	}
}

// --- helpers ---

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
