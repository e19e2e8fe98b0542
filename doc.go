// Package auth authenticates franchise users and resolves what they may do in
// each tenant (franchise location).
//
// Login flow:
//   - Authenticator.Login looks a user up by username or email, enforces the
//     account status and lockout threshold, verifies the peppered argon2id
//     hash and issues an access/refresh TokenPair. Expected outcomes come back
//     as a LoginResult with a LoginStatus; only storage failures are errors.
//   - Failed attempts are counted on the user and written to a
//     FailedLoginRecorder for auditing.
//
// Tokens:
//   - TokenService signs HMAC JWTs carrying the user, tenant, device and the
//     tenant permission version at issue time. A token whose version is older
//     than the tenant's current one is rejected with ErrStalePermissions.
//   - Every refresh token has a RefreshTokenRecord. Rotate revokes the old
//     record and stores its successor in one step, so a replayed refresh token
//     fails with ErrTokenRevoked.
//
// Permissions:
//   - PermissionResolver computes the effective PermissionSet from global role
//     defaults, tenant role overrides and user overrides. Super admins get the
//     whole catalog. Results are cached per (user, tenant) in PermissionCache.
//   - PermissionAdmin is the write side. It bumps permission versions and
//     clears cache entries whenever a change affects issued tokens.
//
// Activity sinks:
//   - ActivitySink receives login, logout, refresh and password change events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking authentication.
//
// The repository subpackage implements every storage interface on bun, and
// middleware/jwtware binds sessions to fiber requests.
package auth
