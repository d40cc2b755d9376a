package main

import (
	"errors"
	"flag"
	"os"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		// Run the daemon in the foreground
		startFlags := flag.NewFlagSet("start", flag.ExitOnError)
		configFile := startFlags.String("config", brand.GetConfigPath(), "Configuration file")
		startFlags.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")

		dryRun := startFlags.Bool("dry-run", false, "Dry run - keep rules in memory without applying")
		startFlags.BoolVar(dryRun, "n", false, "Dry run (short)")

		startFlags.Parse(os.Args[2:])

		if err := cmd.RunStart(*configFile, *dryRun); err != nil {
			printer.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := checkFlags.String("config", brand.GetConfigPath(), "Configuration file")
		checkFlags.StringVar(configFile, "c", brand.GetConfigPath(), "Configuration file (short)")
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		if len(checkFlags.Args()) > 0 {
			*configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(*configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "add":
		run("Add", cmd.RunAdd)
	case "list", "ls":
		run("List", cmd.RunList)
	case "remove", "rm":
		run("Remove", cmd.RunRemove)
	case "refresh":
		run("Refresh", cmd.RunRefresh)
	case "status":
		run("Status", cmd.RunStatus)
	case "history":
		run("History", cmd.RunHistory)
	case "logs", "log":
		run("Logs", cmd.RunLogs)
	case "config":
		run("Config", cmd.RunConfig)

	case "version", "-v", "--version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// run executes a subcommand that parses its own flags.
func run(name string, fn func(args []string) error) {
	err := fn(os.Args[2:])
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	printer.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
	os.Exit(1)
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Daemon:
  start     Run the daemon in the foreground
            Options: --config (-c) <file>, --dry-run (-n)
  check     Validate configuration file
            Options: --config (-c) <file>, --verbose (-v)
  config    Configuration helpers
            Subcommands: init [-o file] [-force], diff FILE [FILE]

Rules:
  add       Add an expiring rule: add [-duration D|-until T] [-weight N] [-permit] [-persistent] COND...
            COND is addr=IP|CIDR|IP-IP, port=N|N-M or proto=tcp|udp|icmp|N
  list      List managed rules
  remove    Remove a rule: remove ID | -all | -unknown
  refresh   Rebuild the rule index from the firewall

Inspection:
  status    Show daemon status
  history   Show the rule journal
            Options: -limit N, -action A, -rule ID, -since D
  logs      Show recent daemon logs
            Options: -n N, -source S, -level L

Client commands accept -s <socket> to reach a daemon on a non-default socket.

Examples:
  %s start -c /etc/warden/warden.hcl
  %s add -duration 10m addr=203.0.113.7 port=22 proto=tcp
  %s remove -unknown
  %s history -action expire -limit 20
`,
		brand.Name, brand.Description,
		brand.LowerName,
		brand.LowerName, brand.LowerName, brand.LowerName, brand.LowerName)
}
