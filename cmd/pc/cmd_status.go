package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/dustin/go-humanize"
)

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	id := flags.Int64("id", 0, "deployment id (default: latest)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	d, err := a.loadDeployment(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: status: %v\n", err)
		return 1
	}

	entries := d.Assignments.Entries()
	var bases, redundant, slots int
	for _, as := range entries {
		if len(as.Inputs) == 0 {
			bases++
		}
		slots += as.Slots()
		redundant += redundantGroups(as)
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"deployment":       d.ID,
			"created":          d.Created,
			"nodes":            d.Graph.Len(),
			"shards":           len(entries),
			"base_shards":      bases,
			"paths":            slots,
			"max_paths":        d.Assignments.MaxSlots(),
			"redundant_groups": redundant,
			"workers":          d.Workers(),
		})
		return 0
	}
	fmt.Printf("deployment %d, created %s\n", d.ID, humanize.Time(d.Created))
	fmt.Printf("  %d node(s), %d shard(s), %d base shard(s)\n", d.Graph.Len(), len(entries), bases)
	fmt.Printf("  %s path(s) tracked, widest shard %d\n", humanize.Comma(int64(slots)), d.Assignments.MaxSlots())
	if redundant > 0 {
		fmt.Printf("  %d group(s) receive redundant copies and can tear\n", redundant)
	} else {
		fmt.Println("  no redundant routes: shards cannot tear")
	}
	printWorkers(d.Workers())
	return 0
}

// redundantGroups counts the groups of as that span more than one path.
func redundantGroups(as assign.Assignment) int {
	n := 0
	for _, g := range as.Groups {
		if len(g.Paths) > 1 {
			n++
		}
	}
	return n
}
