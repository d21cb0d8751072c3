package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Guard checks credentials in front of admin handlers.
type Guard struct {
	authn Authenticator
	authz Authorizer
}

// NewGuard creates a Guard. A nil authenticator admits every request as
// anonymous; a nil authorizer allows every action.
func NewGuard(authn Authenticator, authz Authorizer) *Guard {
	if authz == nil {
		authz = AllowAll{}
	}
	return &Guard{authn: authn, authz: authz}
}

// Require wraps next so that it runs only for callers allowed to perform
// action. Rejections are 401 for bad credentials and 403 for missing
// permissions, with a JSON body {"error": "..."}.
func (g *Guard) Require(action string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := &Identity{Principal: "anonymous", Method: MethodAnonymous}
		if g.authn != nil {
			res, err := g.authn.Authenticate(ctx, RequestFromHTTP(r))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if !res.Authenticated {
				w.Header().Set("WWW-Authenticate", `Bearer realm="tokencache"`)
				writeError(w, http.StatusUnauthorized, res.Err)
				return
			}
			id = res.Identity
		}
		if err := g.authz.Authorize(ctx, id, action); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrForbidden) {
				status = http.StatusForbidden
			}
			writeError(w, status, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = ErrInvalidCredentials
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
