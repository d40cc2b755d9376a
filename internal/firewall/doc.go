// Package firewall is the OS firewall surface used by the rule manager.
//
// # Overview
//
// A [Backend] enumerates, creates and deletes individual filter rules, each
// identified by a backend-assigned [FilterID] and carrying an opaque name.
// The rule manager stores its bookkeeping in that name, so a backend only
// has to round-trip it faithfully.
//
// # Implementations
//
//   - [NFTBackend]: Linux nftables. One inet table with an input base
//     chain; every managed rule is one nftables rule whose handle is the
//     FilterID and whose comment is the name.
//   - [MemoryBackend]: in-process map, used by tests and dry runs.
//
// # Persistence
//
// Kernel rules are boot-scoped. Rules added with Persistent set are also
// written to a [RuleStore] and replayed by [NFTBackend.Open] after a reboot.
//
// # Errors
//
// Failures are returned as [*BackendError]. Removing a rule that does not
// exist wraps [ErrRuleNotFound]. Transient netlink failures are retried
// (see [Retry]).
package firewall
