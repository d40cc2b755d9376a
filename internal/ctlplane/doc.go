// Package ctlplane implements the local control plane of the warden daemon.
//
// # Overview
//
// The daemon owns the rule manager and the firewall connection. Everything
// else (the CLI, scripts, intrusion detectors) talks to it through net/rpc
// over a Unix socket, by default /var/run/warden-ctl.sock with mode 0660.
//
//	warden add ... → Client → Unix Socket → Server → rules.Manager → nftables
//
// # Key Types
//
//   - [Server]: socket lifecycle plus the RPC service named "Server"
//   - [Client]: RPC client that reconnects once on a dropped connection
//   - [ControlPlaneClient]: interface for mocking in tests
//
// Every request is tagged with a random request ID that is carried into the
// lifecycle journal, so `warden history` can relate events to the call that
// caused them.
//
// # Adding New RPC Methods
//
//  1. Define request/reply types in types.go
//  2. Add the method to Handler in server.go
//  3. Add the client method in client.go
//  4. Add the interface method in client_interface.go
//  5. Add the mock implementation in client_mock.go
//
// # Example
//
//	server := ctlplane.NewServer(manager, ctlplane.Options{SocketPath: path, Journal: journal})
//	if err := server.Start(ctx); err != nil { ... }
//	defer server.Stop(ctx)
//
//	client, err := ctlplane.NewClient(path)
//	rules, err := client.ListRules()
package ctlplane
