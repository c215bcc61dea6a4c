package nodetime

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/clock"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/pathmap"
)

// TestDataDriven runs the scenarios under testdata/. The input of "init"
// describes the layout, one directive per line:
//
//	ancestor <out...>     a remapped ancestor; one outgoing path per incoming path
//	identity <width>      an ancestor in a node without remapping
//	group <node>/<shard> <path...>
//
// "update ancestor=<a> path=<p> time=<t>" prints the forwarded component,
// "check" prints the verdict and "status" the per-group progress.
func TestDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		var s *State
		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "init":
				cfg, err := parseLayout(d.Input)
				if err != nil {
					d.Fatalf(t, "%v", err)
				}
				s, err = New(cfg)
				if err != nil {
					return "error: " + errorKind(err)
				}
				return fmt.Sprintf("paths=%d ancestors=%d groups=%d", s.Paths(), s.Ancestors(), len(s.Groups()))

			case "update":
				var ancestor int
				var pStr, tStr string
				d.ScanArgs(t, "ancestor", &ancestor)
				d.ScanArgs(t, "path", &pStr)
				d.ScanArgs(t, "time", &tStr)
				p, err := strconv.ParseUint(pStr, 10, 64)
				if err != nil {
					d.Fatalf(t, "path: %v", err)
				}
				tm, err := strconv.ParseUint(tStr, 10, 64)
				if err != nil {
					d.Fatalf(t, "time: %v", err)
				}
				out, err := s.ProcessUpdate(ancestor, model.TimeComponent{Path: model.Path(p), Time: model.Time(tm)})
				if err != nil {
					return fmt.Sprintf("error: %s\ntime=%s", errorKind(err), s.Time())
				}
				return fmt.Sprintf("forward %s\ntime=%s", out, s.Time())

			case "check":
				if s.IsConsistent() {
					return "consistent"
				}
				return "torn"

			case "status":
				var b strings.Builder
				for _, g := range s.Status().Groups {
					fmt.Fprintf(&b, "%s paths=%v applied=%d leading=%d", g.Origin, g.Paths, g.Applied, g.Leading)
					if len(g.Lagging) > 0 {
						fmt.Fprintf(&b, " lagging=%v", g.Lagging)
					}
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

func errorKind(err error) string {
	switch {
	case errors.Is(err, clock.ErrSequenceGap):
		return "sequence gap"
	case errors.Is(err, clock.ErrTopologyMismatch):
		return "topology mismatch"
	case errors.Is(err, clock.ErrOrderingInvariant):
		return "ordering invariant"
	default:
		return "invalid layout"
	}
}

func parseLayout(input string) (Config, error) {
	var cfg Config
	var table [][]model.Path
	for _, line := range strings.Split(input, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "ancestor":
			row, err := parsePaths(fields[1:])
			if err != nil {
				return cfg, err
			}
			table = append(table, row)
			cfg.Widths = append(cfg.Widths, len(row))
		case "identity":
			if len(fields) != 2 {
				return cfg, errors.Newf("identity wants one width: %q", line)
			}
			w, err := strconv.Atoi(fields[1])
			if err != nil {
				return cfg, err
			}
			cfg.Widths = append(cfg.Widths, w)
		case "group":
			if len(fields) < 2 {
				return cfg, errors.Newf("group wants an origin: %q", line)
			}
			var o model.Origin
			if _, err := fmt.Sscanf(fields[1], "%d/%d", &o.Node, &o.Shard); err != nil {
				return cfg, errors.Wrapf(err, "origin %q", fields[1])
			}
			paths, err := parsePaths(fields[2:])
			if err != nil {
				return cfg, err
			}
			cfg.Groups = append(cfg.Groups, BaseGroup{Origin: o, Paths: paths})
		default:
			return cfg, errors.Newf("unknown directive %q", fields[0])
		}
	}
	if table != nil {
		pm, err := pathmap.New(table)
		if err != nil {
			return cfg, err
		}
		cfg.Paths = pm
	}
	return cfg, nil
}

func parsePaths(fields []string) ([]model.Path, error) {
	out := make([]model.Path, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Path(n))
	}
	return out, nil
}
