// Package auth issues and verifies page tokens.
//
// A page token is an HS256 JWT whose subject is a freshly generated page
// ID. The page presents it when opening its transport; the bridge uses the
// page ID to scope selections, granted devices and teardown. Tokens are
// validated by signature and expiry only; nothing is stored server-side.
package auth
