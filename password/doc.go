// Package password owns the credential lifecycle for an identity: one-way
// hashing, strength policy, reuse history and expiry windows.
//
// The package deals in plain values. A [Record] carries no persistence
// behavior; [Ledger.Set] is the single mutation path and returns the next
// record state for the caller's system of record to store. That keeps the
// policy unit-testable without a live backend.
package password
