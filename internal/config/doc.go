// Package config handles HCL configuration parsing, validation, and
// generation for the warden daemon.
//
// # Overview
//
// The daemon reads one HCL file (JSON and YAML are accepted by extension). Omitted
// settings take the values of [Default]. Expressions may reference the
// process environment through the env object:
//
//	log_level   = env.WARDEN_LOG_LEVEL
//	socket_path = "${env.RUNTIME_DIRECTORY}/warden-ctl.sock"
//
// # Blocks
//
//   - firewall: nftables table and chain names
//   - journal: SQLite lifecycle journal and its prune schedule. The journal
//     is on when the block is omitted; a journal block must set enabled.
//   - state: SQLite store for persistent rules
//   - metrics: Prometheus endpoint
//   - refresh: periodic index rebuild
//
// # Schema Versioning
//
// Configs may carry a schema_version field. Only major version 1 is read.
package config
