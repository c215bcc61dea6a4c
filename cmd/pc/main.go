// Command pc is the pathclock CLI: plan path assignments for a dataflow
// graph, keep deployments in SQLite, and run them in process to watch
// torn states appear and heal.
package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("pc", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	os.Exit(a.run(os.Args[1], os.Args[2:]))
}

// run dispatches a subcommand and returns its exit code.
func (a *app) run(cmd string, args []string) int {
	switch cmd {
	case "init":
		return a.cmdInit(args)
	case "deploy":
		return a.cmdDeploy(args)
	case "deployments", "ls":
		return a.cmdDeployments(args)
	case "show":
		return a.cmdShow(args)
	case "simulate", "sim":
		return a.cmdSimulate(args)
	case "status":
		return a.cmdStatus(args)
	default:
		fmt.Fprintf(os.Stderr, "pc: unknown command %q\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'pc --help' for usage.")
		return 1
	}
}

func printUsage() {
	fmt.Print(`pc: causal consistency tracking for sharded dataflow

Per-path logical time for every write. Path maps across shard boundaries.
Torn-state detection at every node.

Usage:
  pc <command> [flags]

Commands:
  init                        Create the database
  deploy --graph FILE         Compile a JSON graph, place it, save the deployment
  deployments                 List saved deployments
  show [--id N]               Print a deployment's path assignments
  simulate [--id N]           Run a deployment in process and report consistency
  status [--id N]             Overview: shards, path widths, worker load

Aliases:
  ls = deployments, sim = simulate

Environment:
  PATHCLOCK_DB          SQLite database path (default: .pathclock/pathclock.db)
  PATHCLOCK_LOG_LEVEL   debug, info, warn or error (default: warn)
  PATHCLOCK_PLACEMENT   round-robin, shard-id or hash (default: round-robin)
  PATHCLOCK_WORKERS     worker ids (a,b,c) or a count of generated ids
  PATHCLOCK_MAX_PATHS   path budget per shard, 0 for none
  PATHCLOCK_INBOX       inbox capacity per shard in simulate (default: 64)

All commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
  2  torn state found (simulate --check)
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "pc: "+format+"\n", args...)
	os.Exit(1)
}
