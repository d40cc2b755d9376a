// Package rules manages the lifecycle of expiring firewall rules.
//
// A [Manager] turns rule requests into backend rules, deduplicates them by
// content hash, and removes them when they expire. All of its state is an
// index over what the backend reports: rule names encode the expiration and
// hash (see fwdata.EncodeName), so [Manager.Refresh] can rebuild the index
// at any time from [firewall.Backend.List].
//
// The index holds one entry per (content hash, family). Requests for a
// condition set that is already active either extend it (the old rule is
// replaced) or are dropped as duplicates:
//
//	E_new <  E_old                     stale
//	E_new - E_old < (E_new - now) / 10 near-duplicate
//	otherwise                          replaced
//
// A sweep goroutine removes expired rules. Its ticker runs only while the
// index is non-empty.
package rules
