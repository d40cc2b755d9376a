package cmd

import (
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"grimm.is/warden/internal/ctlplane"
)

// RunLogs prints recent daemon log entries from its in-memory buffer.
func RunLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	socket := socketFlag(fs)
	limit := fs.Int("n", 100, "Number of entries")
	source := fs.String("source", "", "Only show this component")
	level := fs.String("level", "", "Minimum level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.GetLogs(&ctlplane.GetLogsArgs{Source: *source, Level: *level, Limit: *limit})
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}

	for _, e := range reply.Entries {
		var b strings.Builder
		fmt.Fprintf(&b, "%s [%s] %s: %s", e.Timestamp.Local().Format(time.RFC3339), e.Level, e.Source, e.Message)
		keys := make([]string, 0, len(e.Extra))
		for k := range e.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.Extra[k])
		}
		fmt.Fprintln(stdout, b.String())
	}
	return nil
}
