package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/daviddao/pathclock/pkg/assign"
	"github.com/daviddao/pathclock/pkg/deploy"
)

func (a *app) cmdShow(args []string) int {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	id := flags.Int64("id", 0, "deployment id (default: latest)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	d, err := a.loadDeployment(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: show: %v\n", err)
		return 1
	}

	if *jsonOut {
		type shardJSON struct {
			assign.Assignment
			Name   string  `json:"name"`
			Worker string  `json:"worker"`
			Map    [][]int `json:"map,omitempty"`
		}
		var shards []shardJSON
		for _, as := range d.Assignments.Entries() {
			w, _ := d.WorkerFor(as.Key.Node, as.Key.Shard)
			sj := shardJSON{Assignment: as, Name: shardName(d.Graph, as.Key), Worker: string(w)}
			for _, row := range as.Map.Table() {
				r := make([]int, len(row))
				for i, p := range row {
					r[i] = int(p)
				}
				sj.Map = append(sj.Map, r)
			}
			shards = append(shards, sj)
		}
		printJSON(map[string]interface{}{
			"id":      d.ID,
			"created": d.Created,
			"graph":   d.Graph.Describe(),
			"shards":  shards,
		})
		return 0
	}
	fmt.Printf("deployment %d (created %s)\n", d.ID, d.Created.Format("2006-01-02 15:04:05"))
	for _, as := range d.Assignments.Entries() {
		fmt.Println(describeAssignment(d, as))
	}
	return 0
}

// describeAssignment renders one (node, shard) on a single line.
func describeAssignment(d *deploy.Deployment, as assign.Assignment) string {
	var b strings.Builder
	w, _ := d.WorkerFor(as.Key.Node, as.Key.Shard)
	fmt.Fprintf(&b, "  %-14s on %-12s", shardName(d.Graph, as.Key), w)
	if len(as.Inputs) == 0 {
		b.WriteString(" base")
		return b.String()
	}
	ins := make([]string, len(as.Inputs))
	for i, in := range as.Inputs {
		ins[i] = fmt.Sprintf("%s(%d)", shardName(d.Graph, in), as.Widths[i])
	}
	fmt.Fprintf(&b, " paths=%d inputs=[%s]", as.Slots(), strings.Join(ins, " "))
	for _, g := range as.Groups {
		if len(g.Paths) > 1 {
			fmt.Fprintf(&b, " group(%s)=%v", shardName(d.Graph, g.Origin), g.Paths)
		}
	}
	return b.String()
}
