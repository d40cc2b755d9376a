// Package cmd implements the warden subcommands. Daemon control commands talk
// to the running daemon over the control plane socket.
package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/ctlplane"
	"grimm.is/warden/internal/i18n"
)

// Printer formats user-facing output for the current locale.
var Printer = i18n.NewCLIPrinter()

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// Dial connects to the control plane. Tests replace it with a mock.
var Dial = func(socketPath string) (ctlplane.ControlPlaneClient, error) {
	return ctlplane.NewClient(socketPath)
}

// socketFlag registers the -s flag shared by every client command.
func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("s", brand.GetSocketPath(), "Control socket path")
}

func connect(socketPath string) (ctlplane.ControlPlaneClient, error) {
	client, err := Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w (is the daemon running? start it with: %s start)", err, brand.BinaryName)
	}
	return client, nil
}

func printf(format string, args ...any) {
	Printer.Fprintf(stdout, format, args...)
}
