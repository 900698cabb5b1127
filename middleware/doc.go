// Package middleware exposes net/http adapters for the kestrel engine.
//
// # Guards
//
//   - [CSRFGuard] — anti-forgery token enforcement on mutating methods,
//     with a pre-authentication exempt allow-list.
//   - [RequireSession] — session token verification from the Authorization
//     header, validated claims injected into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement security logic itself — token validation, expiry and policy all
// live behind the Engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make decisions beyond pass/reject from the Engine's answer.
package middleware
