// Package fwdata defines the match conditions of a managed firewall rule and
// their canonical binary form.
//
// A rule request is a Descriptor: an expiration plus a set of Conditions.
// The conditions encode as a sequence of self-describing records
//
//	[tag:1][fixed payload]
//
// sorted and deduplicated so that equal sets always produce equal bytes.
// The BLAKE2b-256 digest of those bytes is the rule's content Hash, the
// deduplication key of the rule manager. EncodeName packs (expiration, hash)
// into the text stored with the backend rule; it is the only state that
// survives a restart, so its layout is versioned and must stay stable.
package fwdata
