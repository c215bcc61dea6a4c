package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/deploy"
	"github.com/daviddao/pathclock/pkg/flow"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/nodetime"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

// holdList collects repeated --hold from:to flags.
type holdList []string

func (h *holdList) String() string     { return strings.Join(*h, ",") }
func (h *holdList) Set(v string) error { *h = append(*h, v); return nil }

type link struct {
	From model.ShardKey `json:"from"`
	To   model.ShardKey `json:"to"`
}

// shardReport is the outcome for one downstream shard.
type shardReport struct {
	Shard  string           `json:"shard"`
	Key    model.ShardKey   `json:"key"`
	Status *nodetime.Status `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (a *app) cmdSimulate(args []string) int {
	flags := flag.NewFlagSet("simulate", flag.ContinueOnError)
	id := flags.Int64("id", 0, "deployment id (default: latest)")
	writes := flags.Int("writes", 10, "writes per base shard")
	var holds holdList
	flags.Var(&holds, "hold", "hold the link from:to (e.g. fan/1:merge/0); repeatable")
	drop := flags.Bool("drop", false, "discard held updates, then release and write once more")
	check := flags.Bool("check", false, "exit 2 if any shard ends torn")
	showMetrics := flags.Bool("metrics", false, "print runtime metrics to stderr")
	timeout := flags.Duration("timeout", 30*time.Second, "give up after this long")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	d, err := a.loadDeployment(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: simulate: %v\n", err)
		return 1
	}
	var links []link
	for _, h := range holds {
		from, to, ok := strings.Cut(h, ":")
		if !ok {
			fmt.Fprintf(os.Stderr, "pc: simulate: --hold %q: want from:to\n", h)
			return 1
		}
		var l link
		if l.From, err = parseShardRef(d.Graph, from); err == nil {
			l.To, err = parseShardRef(d.Graph, to)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "pc: simulate: --hold %q: %v\n", h, err)
			return 1
		}
		links = append(links, l)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	res, err := a.simulate(ctx, d, simulation{
		writes:  *writes,
		holds:   links,
		drop:    *drop,
		metrics: flow.NewMetrics(reg),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: simulate: %v\n", err)
		return 1
	}
	if *showMetrics {
		printMetrics(reg)
	}

	reports, violation := res.reports, res.violation
	torn := 0
	for _, r := range reports {
		if r.Status != nil && !r.Status.Consistent {
			torn++
		}
	}
	if *jsonOut {
		printJSON(map[string]interface{}{
			"deployment": d.ID,
			"writes":     *writes,
			"held":       links,
			"shards":     reports,
			"torn":       torn,
		})
	} else {
		printReports(reports)
		fmt.Printf("%d of %d shard(s) torn\n", torn, len(reports))
	}

	switch {
	case violation != nil:
		fmt.Fprintf(os.Stderr, "pc: simulate: %v\n", violation)
		return 1
	case *check && torn > 0:
		return 2
	}
	return 0
}

type simulation struct {
	writes  int
	holds   []link
	drop    bool
	metrics *flow.Metrics
}

type simResult struct {
	reports []shardReport
	// violation is the first invariant violation any shard hit.
	violation error
}

// simulate runs d in process and reports every downstream shard.
func (a *app) simulate(ctx context.Context, d *deploy.Deployment, sim simulation) (simResult, error) {
	if prev := a.snapshots.Publish(d.Assignments); prev != nil && prev != d.Assignments {
		a.log.Debug("path assignments replaced", "deployment", d.ID)
	}
	rt, err := flow.Start(ctx, d, flow.Options{
		Inbox:     a.cfg.Inbox,
		Logger:    a.log,
		Metrics:   sim.metrics,
		Snapshots: &a.snapshots,
	})
	if err != nil {
		return simResult{}, err
	}
	var bases []model.ShardKey
	for _, as := range d.Assignments.Entries() {
		if len(as.Inputs) == 0 {
			bases = append(bases, as.Key)
		}
	}
	writeRound := func() error {
		for _, b := range bases {
			if _, err := rt.Write(ctx, b.Node, b.Shard); err != nil {
				return errors.Wrapf(err, "write %s", shardName(d.Graph, b))
			}
		}
		return nil
	}

	for _, l := range sim.holds {
		if err := rt.Hold(l.From, l.To); err != nil {
			rt.Close()
			return simResult{}, err
		}
	}
	for i := 0; i < sim.writes; i++ {
		if err := writeRound(); err != nil {
			rt.Close()
			return simResult{}, err
		}
	}
	if sim.drop {
		for _, l := range sim.holds {
			n, err := rt.Discard(l.From, l.To)
			if err == nil {
				err = rt.Release(ctx, l.From, l.To)
			}
			if err != nil {
				rt.Close()
				return simResult{}, err
			}
			a.log.Warn("dropped held updates", "from", shardName(d.Graph, l.From), "to", shardName(d.Graph, l.To), "count", n)
		}
		if err := writeRound(); err != nil {
			rt.Close()
			return simResult{}, err
		}
	}
	if err := rt.Flush(ctx); err != nil {
		rt.Close()
		return simResult{}, err
	}

	var reports []shardReport
	for _, as := range d.Assignments.Entries() {
		if len(as.Inputs) == 0 {
			continue
		}
		r := shardReport{Shard: shardName(d.Graph, as.Key), Key: as.Key}
		st, err := rt.Status(ctx, as.Key.Node, as.Key.Shard)
		if err != nil && !errors.IsAssertionFailure(err) {
			rt.Close()
			return simResult{}, err
		}
		if err != nil {
			r.Error = err.Error()
		} else {
			r.Status = &st
		}
		reports = append(reports, r)
	}
	return simResult{reports: reports, violation: rt.Close()}, nil
}

func printReports(reports []shardReport) {
	for _, r := range reports {
		switch {
		case r.Error != "":
			fmt.Printf("  %-14s STOPPED  %s\n", r.Shard, r.Error)
		case r.Status.Consistent:
			fmt.Printf("  %-14s ok\n", r.Shard)
		default:
			fmt.Printf("  %-14s TORN\n", r.Shard)
			for _, g := range r.Status.Groups {
				if g.Torn() {
					fmt.Printf("      origin %s: applied %d, leading %d, lagging paths %v\n",
						g.Origin, g.Applied, g.Leading, g.Lagging)
				}
			}
		}
	}
}

func printMetrics(g prometheus.Gatherer) {
	mfs, err := g.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: metrics: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stderr, "metrics:")
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			v := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			fmt.Fprintf(os.Stderr, "  %s{%s} %s\n", mf.GetName(), strings.Join(labels, ","), humanize.Comma(int64(v)))
		}
	}
}
