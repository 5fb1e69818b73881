// Package principal resolves who the current user is and under which trust
// context the client is running, before any protected view is served.
//
// Identity sources, in precedence order:
//   - Bypass mode: a configuration flag that skips real authentication and
//     synthesizes a fixed or input-derived Principal. No network calls.
//   - Host-asserted identity: an embedding host vouches for the user through
//     URL parameters. The EmbedStore recomputes an EmbedState on every
//     navigation event; when the context is trusted the Resolver synthesizes
//     a Principal without contacting the backend.
//   - Token sessions: persisted access/refresh tokens verified against the
//     backend's current-user endpoint, raced against a hard deadline. A late
//     verification result can never resurrect a session that the deadline
//     already drove to unauthenticated.
//
// Session liveness:
//   - Monitor force-logs-out token sessions after a period with no qualifying
//     user interaction. Host-asserted and bypass sessions are never timed out.
//   - Logout clears both tokens together and replaces the Principal wholesale
//     (or resets it to a guest identity in anonymous-guest deployments).
//
// Route guarding:
//   - Guard consumes {principal, loading} plus the EmbedState and decides
//     whether a protected route renders, waits, or redirects. Adapters for
//     go-router and fiber are provided. Embedded sessions are excluded from
//     administrative capability regardless of email match.
package principal
