package auth

import (
	"context"
	"net/http"
)

// Authenticator validates credentials and returns an identity.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: rejected credentials are a Result with Authenticated=false and a
// nil error; a non-nil error means the check itself failed.
type Authenticator interface {
	// Name identifies the authenticator in logs.
	Name() string

	// Supports reports whether the request carries credentials this
	// authenticator understands.
	Supports(ctx context.Context, req *Request) bool

	// Authenticate validates the credentials.
	Authenticate(ctx context.Context, req *Request) (*Result, error)
}

// Request carries the credential-bearing parts of a call.
type Request struct {
	Headers http.Header
}

// RequestFromHTTP builds a Request from r.
func RequestFromHTTP(r *http.Request) *Request {
	return &Request{Headers: r.Header}
}

// Header returns the first value of key.
func (r *Request) Header(key string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Authenticated bool
	Identity      *Identity
	Err           error
	Method        Method
}

// Success returns an authenticated Result for id.
func Success(id *Identity) *Result {
	return &Result{Authenticated: true, Identity: id, Method: id.Method}
}

// Failure returns a rejected Result.
func Failure(err error, method Method) *Result {
	return &Result{Err: err, Method: method}
}
