// Package identity decides which local account an external login represents.
//
// The authentication broker hands over a verified Assertion (or a ProviderError).
// Resolver.Resolve combines it with the id of the user already signed in, if any,
// and returns an Outcome: sign in as an existing user, link the identity to the
// signed-in user, create a user, migrate a legacy account, or reject the login.
//
// A (provider, external id) pair is bound to at most one user. The store behind
// UnitOfWork enforces that; Resolve reports a commit-time race as Conflict and the
// caller resolves again.
package identity
