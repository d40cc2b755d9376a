package cmd

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/rules"
)

// DefaultRuleDuration is used by `add` when neither -duration nor -until is given.
const DefaultRuleDuration = time.Hour

// now is the reference time for relative expirations.
var now = time.Now

// RunAdd installs a rule built from condition arguments such as
// addr=192.0.2.1 port=22 proto=tcp.
func RunAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	socket := socketFlag(fs)
	duration := fs.Duration("duration", 0, "Rule lifetime (default 1h)")
	until := fs.String("until", "", "Absolute expiration (RFC3339)")
	weight := fs.Uint64("weight", 0, "Rule weight; higher weights are evaluated first")
	permit := fs.Bool("permit", false, "Accept matching traffic instead of dropping it")
	persistent := fs.Bool("persistent", false, "Reinstall the rule after a restart")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: %s add [-duration D|-until T] [-weight N] [-permit] [-persistent] COND...", brand.BinaryName)
	}

	exp, err := expiration(*duration, *until)
	if err != nil {
		return err
	}

	conds := make([]fwdata.Condition, 0, fs.NArg())
	for _, arg := range fs.Args() {
		c, err := fwdata.ParseCondition(arg)
		if err != nil {
			return err
		}
		conds = append(conds, c)
	}
	d := fwdata.NewDescriptor(exp, conds...)
	if err := d.Validate(); err != nil {
		return err
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := client.AddRule(d, rules.AddOptions{Weight: *weight, Permit: *permit, Persistent: *persistent})
	if err != nil {
		return fmt.Errorf("failed to add rule: %w", err)
	}

	var failed int
	for _, r := range reply.Results {
		line := fmt.Sprintf("%s %s hash=%s", r.Family, r.Outcome, r.Hash)
		if r.ID != 0 {
			line += " id=" + strconv.FormatUint(r.ID, 10)
		}
		if r.Replaced != 0 {
			line += " replaced=" + strconv.FormatUint(r.Replaced, 10)
		}
		if r.Error != "" {
			line += " error=" + strconv.Quote(r.Error)
			failed++
		}
		printf("%s\n", line)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d family layers failed", failed, len(reply.Results))
	}
	return nil
}

func expiration(duration time.Duration, until string) (time.Time, error) {
	switch {
	case duration != 0 && until != "":
		return time.Time{}, errors.New("-duration and -until are mutually exclusive")
	case until != "":
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid -until: %w", err)
		}
		return t, nil
	case duration < 0:
		return time.Time{}, errors.New("-duration must be positive")
	case duration == 0:
		duration = DefaultRuleDuration
	}
	return now().Add(duration), nil
}

// RunList prints the managed rules in ID order.
func RunList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	list, err := client.ListRules()
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(list) == 0 {
		printf("No managed rules\n")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFAMILY\tEXPIRES\tREMAINING\tHASH")
	ref := now()
	for _, r := range list {
		remaining := r.Expiration.Sub(ref).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.Family,
			r.Expiration.Local().Format(time.RFC3339), remaining, r.Hash)
	}
	return w.Flush()
}

// RunRemove deletes one rule by ID, every managed rule (-all) or every
// foreign rule (-unknown).
func RunRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	socket := socketFlag(fs)
	all := fs.Bool("all", false, "Remove every managed rule")
	unknown := fs.Bool("unknown", false, "Remove every rule warden does not manage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	modes := 0
	for _, set := range []bool{*all, *unknown, fs.NArg() > 0} {
		if set {
			modes++
		}
	}
	if modes != 1 || fs.NArg() > 1 {
		return fmt.Errorf("usage: %s remove ID | -all | -unknown", brand.BinaryName)
	}

	var id uint64
	if fs.NArg() == 1 {
		var err error
		if id, err = strconv.ParseUint(fs.Arg(0), 10, 64); err != nil {
			return fmt.Errorf("invalid rule ID %q", fs.Arg(0))
		}
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	switch {
	case *all:
		n, err := client.RemoveAll()
		if err != nil {
			return fmt.Errorf("failed to remove rules: %w", err)
		}
		printf("Removed %d managed rules\n", n)
	case *unknown:
		n, err := client.RemoveUnknown()
		if err != nil {
			return fmt.Errorf("failed to remove foreign rules: %w", err)
		}
		printf("Removed %d foreign rules\n", n)
	default:
		if err := client.RemoveRule(id); err != nil {
			return fmt.Errorf("failed to remove rule %d: %w", id, err)
		}
		printf("Removed rule %s\n", strconv.FormatUint(id, 10))
	}
	return nil
}

// RunRefresh rebuilds the daemon's index from the firewall.
func RunRefresh(args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := connect(*socket)
	if err != nil {
		return err
	}
	defer client.Close()

	r, err := client.Refresh()
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	printf("Indexed:     %d\n", r.Indexed)
	printf("Foreign:     %d\n", r.Foreign)
	printf("Expired:     %d\n", r.Expired)
	printf("Duplicates:  %d\n", r.Duplicates)
	if r.FailedRemovals > 0 {
		printf("Failed removals: %d\n", r.FailedRemovals)
	}
	return nil
}
