package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hibiken/asynq"

	"github.com/lyceum-lms/lyceum-lms/internal/app"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
	"github.com/lyceum-lms/lyceum-lms/internal/platform/db"
	"github.com/lyceum-lms/lyceum-lms/jobs"
)

// Run dispatches operator subcommands. The second return reports whether the
// arguments named one; the caller starts the server otherwise.
func Run(ctx context.Context, args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch args[0] {
	case "jobs":
		return runJobs(ctx, args[1:]), true
	case "tree":
		return runTree(ctx, args[1:]), true
	case "token":
		return runToken(args[1:]), true
	}
	return 0, false
}

func runJobs(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lyceum jobs <enqueue|stats|scheduled>")
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: load config: %v\n", err)
		return 1
	}
	helper, err := NewJobsCLI(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = helper.Close() }()

	switch args[0] {
	case "enqueue":
		fs := flag.NewFlagSet("jobs enqueue", flag.ContinueOnError)
		resource := fs.Int64("resource", 0, "resource id for "+jobs.TaskInvalidateSubtree)
		subject := fs.String("subject", "", "subject id for "+jobs.TaskInvalidatePrincipal)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: lyceum jobs enqueue <task> [--resource id] [--subject id]")
			return 2
		}
		name := fs.Arg(0)
		var info *asynq.TaskInfo
		switch name {
		case jobs.TaskInvalidateSubtree:
			info, err = helper.TriggerSubtree(ctx, *resource)
		case jobs.TaskInvalidatePrincipal:
			info, err = helper.TriggerPrincipal(ctx, *subject)
		default:
			info, err = helper.Trigger(ctx, name)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs enqueue: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", name, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	case "scheduled":
		fs := flag.NewFlagSet("jobs scheduled", flag.ContinueOnError)
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		infos, err := helper.ListScheduled(ctx, *size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs scheduled: %v\n", err)
			return 1
		}
		for _, info := range infos {
			fmt.Printf("%s %s next=%s\n", info.ID, info.Type, info.NextProcessAt)
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
}

func runTree(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] != "verify" {
		fmt.Fprintln(os.Stderr, "usage: lyceum tree verify [--json]")
		return 2
	}
	fs := flag.NewFlagSet("tree verify", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tree verify: load config: %v\n", err)
		return 1
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tree verify: connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()
	return NewTreeOpsCLI(hierarchy.NewRepository(pool)).VerifyCommand(ctx, TreeVerifyOptions{JSONOutput: *jsonOut})
}

func runToken(args []string) int {
	if len(args) == 0 || args[0] != "hash" {
		fmt.Fprintln(os.Stderr, "usage: lyceum token hash [--token secret] [--cost n]")
		return 2
	}
	fs := flag.NewFlagSet("token hash", flag.ContinueOnError)
	token := fs.String("token", "", "token value; omit to read a line from stdin")
	cost := fs.Int("cost", 0, "bcrypt cost, default bcrypt.DefaultCost")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	return NewTokenCLI().HashCommand(TokenHashOptions{Token: *token, Cost: *cost})
}
