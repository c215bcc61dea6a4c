package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdInit(args []string) int {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	deps, err := a.store.ListDeployments(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pc: init: database error: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(map[string]interface{}{"db": a.cfg.DB, "deployments": len(deps)})
		return 0
	}
	fmt.Printf("initialized pathclock (db: %s)\n", a.cfg.DB)
	if len(deps) > 0 {
		fmt.Printf("  %d existing deployment(s)\n", len(deps))
	}
	fmt.Println()
	fmt.Println("next steps:")
	fmt.Println("  pc deploy --graph graph.json --workers 3")
	fmt.Println("  pc simulate --writes 10 --hold fan/1:merge --check")
	return 0
}
