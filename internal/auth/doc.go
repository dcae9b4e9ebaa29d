// Package auth verifies the bearer tokens agents present when
// connecting. Tokens are HS256 JWTs signed with the shared secret from
// the config; an empty secret disables verification entirely.
package auth
