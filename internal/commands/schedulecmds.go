package commands

import (
	"fmt"
	"strings"
)

func cmdSchedule(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	sched := d.Scheduler(e.WorkspacePath)
	args := req.Cmd.Args
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		jobs := sched.Jobs()
		if len(jobs) == 0 {
			return ok("no jobs — drop *.json files into .msgcode/schedules/")
		}
		var b strings.Builder
		for _, j := range jobs {
			state := "on"
			if !j.Enabled {
				state = "off"
			}
			fmt.Fprintf(&b, "%s [%s] %s → %s", j.ID, state, j.Cron, j.ChatID)
			if next, err := sched.NextRun(j.ID); err == nil && j.Enabled {
				fmt.Fprintf(&b, " (next %s)", next.Format("2006-01-02 15:04"))
			}
			b.WriteString("\n")
		}
		return ok("%s", strings.TrimRight(b.String(), "\n"))

	case "validate":
		errs := sched.ValidateDir()
		if len(errs) == 0 {
			return ok("all job files valid")
		}
		var b strings.Builder
		for _, err := range errs {
			fmt.Fprintf(&b, "%v\n", err)
		}
		return failf("%s", strings.TrimRight(b.String(), "\n"))

	case "enable", "disable":
		if len(args) < 2 {
			return failf("usage: /schedule %s <id>", sub)
		}
		if err := sched.SetEnabled(args[1], sub == "enable"); err != nil {
			return failf("%v", err)
		}
		return ok("job %s %sd", args[1], sub)
	}
	return failf("usage: /schedule list|validate|enable|disable")
}

func cmdReload(d *Deps, req Request) Result {
	e, res, found := binding(d, req.ChatID)
	if !found {
		return res
	}
	n, err := d.Scheduler(e.WorkspacePath).Reload()
	if err != nil {
		return failf("reload failed: %v", err)
	}
	return ok("reloaded %d jobs", n)
}
