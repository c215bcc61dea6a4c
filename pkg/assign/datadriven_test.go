package assign

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/graph"
)

// TestDataDriven compiles the JSON graph given as "build" input and prints
// one line per (node, shard). "build max-paths=<n>" applies a path budget.
func TestDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "build":
				var opts Options
				if d.HasArg("max-paths") {
					d.ScanArgs(t, "max-paths", &opts.MaxPaths)
				}
				g, err := graph.Decode(strings.NewReader(d.Input))
				if err != nil {
					d.Fatalf(t, "%v", err)
				}
				pa, err := Build(g, opts)
				if errors.Is(err, ErrPathBudget) {
					return "error: path budget"
				} else if err != nil {
					d.Fatalf(t, "%v", err)
				}
				var b strings.Builder
				for _, a := range pa.Entries() {
					b.WriteString(formatAssignment(a))
					b.WriteString("\n")
				}
				return b.String()

			default:
				d.Fatalf(t, "unknown command %q", d.Cmd)
				return ""
			}
		})
	})
}

func formatAssignment(a Assignment) string {
	if len(a.Inputs) == 0 {
		return fmt.Sprintf("%s base", a.Key)
	}
	m := "identity"
	if !a.Map.IsIdentity() {
		m = fmt.Sprint(a.Map.Table())
	}
	groups := make([]string, len(a.Groups))
	for i, g := range a.Groups {
		groups[i] = fmt.Sprintf("%s:%v", g.Origin, g.Paths)
	}
	return fmt.Sprintf("%s inputs=%v widths=%v map=%s groups=[%s]",
		a.Key, a.Inputs, a.Widths, m, strings.Join(groups, " "))
}
