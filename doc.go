// Package kestrel is a credential-security engine for user-authentication
// services. For every login, registration, verification and password-change
// attempt it decides whether the attempt may proceed, what state transition
// it causes, and when a secret (password, one-time code, anti-forgery token)
// must be rejected or rotated.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. Per-identity state (throttle counters, OTP records) is
// mutated through atomic Redis scripts so concurrent attempts against the
// same identity never lose updates.
//
// # Architecture boundaries
//
// kestrel is the public surface. It exposes [Engine], [Builder], [Config],
// sentinel errors and value types. The state machines (login throttle,
// password ledger, OTP ledger, CSRF token store) live under internal/ and
// the password package. The HTTP layer, database schema and mail transport
// are the caller's problem, reached only through the [UserProvider] and
// [Notifier] collaborators.
//
// # Failure posture
//
// Policy violations are distinguishable sentinel errors. Backend failures
// wrap a per-component *Unavailable sentinel and the engine fails closed on
// them: an attempt is denied rather than allowed on ambiguous state.
package kestrel
