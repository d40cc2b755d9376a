package cmd

import (
	"flag"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"grimm.is/warden/internal/brand"
)

// RunStatus queries the daemon for its current status and prints it.
func RunStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	printf("=== %s Status ===\n\n", brand.Name)
	printf("Version:  %s\n", st.Version)
	printf("Backend:  %s\n", st.Backend)
	printf("Uptime:   %s\n", st.Uptime)
	if st.Capacity > 0 {
		printf("Rules:    %d / %d\n", st.Rules, st.Capacity)
	} else {
		printf("Rules:    %d\n", st.Rules)
	}

	families := make([]string, 0, len(st.ByFamily))
	for f := range st.ByFamily {
		families = append(families, f)
	}
	sort.Strings(families)
	for _, f := range families {
		printf("  %-6s %d\n", f+":", st.ByFamily[f])
	}

	printf("\n")
	if st.SweepActive {
		printf("Sweep:    every %s, %d runs\n", st.Interval, st.Sweeps)
	} else {
		printf("Sweep:    disabled\n")
	}
	if !st.LastSweep.IsZero() {
		printf("Last:     %s\n", st.LastSweep.Local().Format(time.RFC3339))
	}
	if st.Journal {
		printf("Journal:  enabled\n")
	} else {
		printf("Journal:  disabled\n")
	}

	if len(st.Services) > 0 {
		printf("\nServices:\n")
		for _, svc := range st.Services {
			state := "stopped"
			if svc.Running {
				state = "running"
			}
			printf("  %-10s %-8s %s\n", svc.Name, state, svc.Addr)
			if svc.Error != "" {
				printf("             error: %s\n", svc.Error)
			}
		}
	}

	if len(st.Tasks) == 0 {
		return nil
	}
	printf("\nTasks:\n")
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TASK\tRUNS\tERRORS\tLAST\tNEXT\tLAST ERROR")
	for _, t := range st.Tasks {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			strconv.FormatInt(t.RunCount, 10),
			strconv.FormatInt(t.ErrorCount, 10),
			shortTime(t.LastRun),
			shortTime(t.NextRun),
			dash(t.LastError))
	}
	return w.Flush()
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("01-02 15:04:05")
}
