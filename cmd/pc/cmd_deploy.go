package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/config"
	"github.com/daviddao/pathclock/pkg/deploy"
	"github.com/daviddao/pathclock/pkg/graph"
	"github.com/daviddao/pathclock/pkg/model"
	"github.com/daviddao/pathclock/pkg/placement"
	"github.com/dustin/go-humanize"
)

func (a *app) cmdDeploy(args []string) int {
	flags := flag.NewFlagSet("deploy", flag.ContinueOnError)
	graphFile := flags.String("graph", "", "JSON graph description (required)")
	policy := flags.String("placement", string(a.cfg.Placement), "placement policy: round-robin, shard-id or hash")
	workersFlag := flags.String("workers", "", "worker ids (a,b,c) or a count (default PATHCLOCK_WORKERS, else 1)")
	maxPaths := flags.Int("max-paths", a.cfg.MaxPaths, "path budget per shard, 0 for none")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *graphFile == "" {
		fmt.Fprintln(os.Stderr, "pc: deploy: --graph is required")
		return 1
	}

	workers := a.cfg.Workers
	if *workersFlag != "" {
		var err error
		if workers, err = config.ParseWorkers(*workersFlag); err != nil {
			fmt.Fprintf(os.Stderr, "pc: deploy: --workers: %v\n", err)
			return 1
		}
	}
	if len(workers) == 0 {
		workers = placement.NewWorkerIDs(1)
	}

	d, err := a.deployFile(*graphFile, placement.Policy(*policy), workers, *maxPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: deploy: %v\n", err)
		if errors.Is(err, assign.ErrPathBudget) {
			fmt.Fprintln(os.Stderr, "  raise --max-paths or reduce fan-out in the graph")
		}
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"id":        d.ID,
			"nodes":     d.Graph.Len(),
			"shards":    len(d.Assignments.Entries()),
			"max_slots": d.Assignments.MaxSlots(),
			"workers":   d.Workers(),
		})
		return 0
	}
	fmt.Printf("deployment %d: %d node(s), %s shard(s), widest shard tracks %d path(s)\n",
		d.ID, d.Graph.Len(), humanize.Comma(int64(len(d.Assignments.Entries()))), d.Assignments.MaxSlots())
	printWorkers(d.Workers())
	return 0
}

// deployFile decodes, plans and saves a graph description.
func (a *app) deployFile(path string, policy placement.Policy, workers []model.WorkerID, maxPaths int) (*deploy.Deployment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := graph.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	strategy, err := placement.New(policy, workers)
	if err != nil {
		return nil, err
	}
	d, err := deploy.Plan(g, strategy, deploy.Options{Assign: assign.Options{MaxPaths: maxPaths}})
	if err != nil {
		return nil, err
	}
	if _, err := a.store.SaveDeployment(d); err != nil {
		return nil, errors.Wrap(err, "save")
	}
	a.snapshots.Publish(d.Assignments)
	a.log.Info("deployment saved", "id", d.ID, "nodes", g.Len(), "policy", string(policy))
	return d, nil
}

func printWorkers(load map[model.WorkerID]int) {
	ids := make([]model.WorkerID, 0, len(load))
	for w := range load {
		ids = append(ids, w)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fmt.Println("workers:")
	for _, w := range ids {
		fmt.Printf("  %-16s %d domain shard(s)\n", w, load[w])
	}
}
