package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/officina-erp/officina-erp/cmd/officina/cli"
	"github.com/officina-erp/officina-erp/internal/app"
)

const jobsUsage = `usage: officina jobs <command>

commands:
  trigger <task>   enqueue a job by task type (e.g. stock:low_scan)
  stats            print default queue counters
  scheduled        list scheduled tasks
`

// runJobsCommand handles the "officina jobs ..." management subcommand.
func runJobsCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, jobsUsage)
		os.Exit(2)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	jc, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init jobs cli: %v\n", err)
		os.Exit(1)
	}
	defer jc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "trigger: task type required")
			os.Exit(2)
		}
		info, err := jc.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "trigger %s: %v\n", args[1], err)
			os.Exit(1)
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jc.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "queue stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	case "scheduled":
		tasks, err := jc.ListScheduled(ctx, 20)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list scheduled: %v\n", err)
			os.Exit(1)
		}
		for _, task := range tasks {
			fmt.Printf("%s id=%s next=%s\n", task.Type, task.ID, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprint(os.Stderr, jobsUsage)
		os.Exit(2)
	}
}
