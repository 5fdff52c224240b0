package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/movinglive/autoagent/core/scheduler"
	"github.com/movinglive/autoagent/core/types"
	autoagent "github.com/movinglive/autoagent/pkg/client"
	"github.com/movinglive/autoagent/pkg/describe"
)

const usage = `usage: autoagentctl [flags] <command> [args]

commands:
  tasks                          list tasks
  missed                         list missed tasks
  counts                         show active, paused and missed counts
  create <name> <prompt>         create a task (-every, -unit, -at, -day)
  toggle <task-id>               pause or resume a task
  delete <task-id>               delete a task
  execute <missed-id>            run a missed task now
  dismiss <missed-id>            drop a missed task
  execute-all                    run every missed task
  dismiss-all                    drop every missed task

flags:
`

func main() {
	url := flag.String("url", envOr("AUTOAGENT_URL", "http://localhost:3000"), "daemon address")
	key := flag.String("key", os.Getenv("AUTOAGENT_API_KEY"), "API key")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	every := flag.Int("every", 0, "create: interval in minutes")
	unit := flag.String("unit", "", "create: hours, days or weeks")
	at := flag.String("at", "", "create: time of day as HH:MM")
	day := flag.Int("day", -1, "create: weekday for weekly tasks, 0 is Sunday")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := autoagent.NewClient(*url, *key, *timeout)
	args := flag.Args()

	var err error
	switch args[0] {
	case "tasks":
		err = listTasks(ctx, c)
	case "missed":
		err = listMissed(ctx, c)
	case "counts":
		err = showCounts(ctx, c)
	case "create":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		var in scheduler.TaskInput
		in, err = taskInput(args[1], args[2], *every, *unit, *at, *day)
		if err == nil {
			var task types.Task
			task, err = c.CreateTask(ctx, in)
			if err == nil {
				fmt.Printf("created %s (%s)\n", task.ID, describe.Schedule(task))
			}
		}
	case "toggle":
		var task types.Task
		task, err = c.ToggleTask(ctx, arg(args))
		if err == nil {
			fmt.Printf("%s is now %s\n", task.Name, state(task))
		}
	case "delete":
		err = c.DeleteTask(ctx, arg(args))
	case "execute":
		err = c.ExecuteMissed(ctx, arg(args))
	case "dismiss":
		err = c.DismissMissed(ctx, arg(args))
	case "execute-all":
		var n int
		n, err = c.ExecuteAllMissed(ctx)
		fmt.Printf("executed %d missed tasks\n", n)
	case "dismiss-all":
		var n int
		n, err = c.DismissAllMissed(ctx)
		fmt.Printf("dismissed %d missed tasks\n", n)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func arg(args []string) string {
	if len(args) != 2 {
		flag.Usage()
		os.Exit(2)
	}
	return args[1]
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func taskInput(name, prompt string, every int, unit, at string, day int) (scheduler.TaskInput, error) {
	in := scheduler.TaskInput{Name: name, Prompt: prompt, IntervalInMinutes: every}
	if unit == "" {
		return in, nil
	}

	data := &types.SchedulingData{Type: types.ScheduleUnit(unit)}
	if at != "" {
		t, err := time.Parse("15:04", at)
		if err != nil {
			return in, fmt.Errorf("invalid -at %q: %w", at, err)
		}
		h, m := t.Hour(), t.Minute()
		data.Hours, data.Minutes = &h, &m
	}
	if day >= 0 {
		if day > 6 {
			return in, fmt.Errorf("invalid -day %d", day)
		}
		data.Day = &day
	}
	in.SchedulingData = data
	return in, nil
}

func state(task types.Task) string {
	if task.IsActive {
		return "active"
	}
	return "paused"
}

func listTasks(ctx context.Context, c *autoagent.Client) error {
	tasks, err := c.Tasks(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tSTATE\tLAST RUN")
	for _, t := range tasks {
		last := "never"
		if t.LastRun != nil {
			last = describe.TimeAgo(*t.LastRun, now)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, describe.Schedule(t), state(t), last)
	}
	return w.Flush()
}

func listMissed(ctx context.Context, c *autoagent.Client) error {
	missed, err := c.Missed(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tMISSED")
	for _, m := range missed {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.TaskName, describe.TimeAgo(m.MissedAt, now))
	}
	return w.Flush()
}

func showCounts(ctx context.Context, c *autoagent.Client) error {
	counts, err := c.Counts(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("active: %d\npaused: %d\nmissed: %d\n", counts.Active, counts.Paused, counts.Missed)
	return nil
}
