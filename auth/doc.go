// Package auth authenticates and authorizes callers of the tokencached admin
// HTTP API.
//
// Two authenticators are provided: static API keys (X-API-Key) and HS256
// JWTs (Authorization: Bearer). A RoleAuthorizer maps each admin action to
// the roles allowed to perform it, and Middleware puts both in front of an
// http.Handler.
package auth
