package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
)

func (a *app) cmdDeployments(args []string) int {
	flags := flag.NewFlagSet("deployments", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "max deployments to list")
	del := flags.Int64("delete", 0, "delete deployment N instead of listing")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *del != 0 {
		if err := a.store.DeleteDeployment(*del); err != nil {
			fmt.Fprintf(os.Stderr, "pc: deployments: %v\n", err)
			return 1
		}
		if !*jsonOut {
			fmt.Printf("deleted deployment %d\n", *del)
		} else {
			printJSON(map[string]interface{}{"deleted": *del})
		}
		return 0
	}

	list, err := a.store.ListDeployments(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: deployments: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"deployments": list, "count": len(list)})
		return 0
	}
	if len(list) == 0 {
		fmt.Println("no deployments")
		return 0
	}
	for _, d := range list {
		fmt.Printf("#%-4d nodes=%-3d shards=%-4d max_paths=%-4d created %s\n",
			d.ID, d.Nodes, d.Shards, d.MaxSlots, humanize.Time(d.Created))
	}
	return 0
}
