// Package memory implements the xledger Log, Broker and DedupStore contracts
// with in-process data structures.
//
// Not suitable for production — nothing survives a restart — but excellent
// for local development, CI and benchmarking, and it is the reference
// implementation for the bus semantics: strictly increasing offsets under
// concurrent appends, best-effort drop-on-full fan-out, subscriber-namespaced
// dedup marks.
package memory
