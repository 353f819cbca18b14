// Package auth implements multi-tenant authentication and account
// lifecycle on top of Bun repositories.
//
// Sessions:
//   - Logins produce opaque "id.secret" cookie values backed by a
//     server-side sessions table; only the SHA-256 of the secret is
//     stored. Validation is a per-request database read, so revoking a
//     session takes effect on the very next request. SessionManager
//     owns creation, validation, and revocation; RouteAuthenticator
//     binds it to cookies and route middleware.
//
// Single-use tokens:
//   - TokenManager issues and consumes email verification, password
//     reset, and invitation tokens. Raw values are returned exactly
//     once; the table keeps hashes. Consumption is a conditional
//     update on used_at, so concurrent submissions of the same token
//     admit exactly one winner. Issuing supersedes any earlier token
//     for the same subject and kind.
//
// Tenancy:
//   - Organizations are the hard boundary. Roles, invitations, counters,
//     and audit entries are scoped to one organization; lookups across
//     that boundary report not-found rather than forbidden.
//     RegisterOrganizationHandler bootstraps a tenant atomically:
//     organization, default Admin role with the full permission
//     catalog, first user, profile, and verification token in one
//     transaction.
//
// Commands:
//   - Workflow mutations (registration, invitations, password reset and
//     change, email verification) are message/handler pairs that run
//     inside a single repository transaction with a bounded timeout.
//     Side effects such as emails and audit events are dispatched only
//     after commit and never block or fail the operation.
package auth
