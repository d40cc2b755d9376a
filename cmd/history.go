package cmd

import (
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"grimm.is/warden/internal/ctlplane"
)

// RunHistory prints journal events, newest first.
func RunHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	socket := socketFlag(fs)
	limit := fs.Int("limit", 50, "Maximum number of events")
	action := fs.String("action", "", "Only show this action (add, remove, expire, refresh, replace)")
	rule := fs.Uint64("rule", 0, "Only show events for this rule ID")
	since := fs.Duration("since", 0, "Only show events newer than this age")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := &ctlplane.GetHistoryArgs{Action: *action, RuleID: *rule, Limit: *limit}
	if *since > 0 {
		q.Since = now().Add(-*since)
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.GetHistory(q)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(reply.Events) == 0 {
		printf("No events\n")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tRULE\tFAMILY\tOUTCOME\tREQUEST\tERROR")
	for _, e := range reply.Events {
		id := "-"
		if e.RuleID != 0 {
			id = fmt.Sprint(e.RuleID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.Action, id,
			dash(e.Family), dash(e.Outcome), dash(e.RequestID), dash(e.Error))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
