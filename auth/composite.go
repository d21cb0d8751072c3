package auth

import "context"

// Composite tries its authenticators in order. The first one that supports
// the request decides; later ones are only consulted when it rejects.
type Composite struct {
	auths []Authenticator
}

// NewComposite creates a Composite. Nil entries are skipped.
func NewComposite(auths ...Authenticator) *Composite {
	c := &Composite{}
	for _, a := range auths {
		if a != nil {
			c.auths = append(c.auths, a)
		}
	}
	return c
}

// Name returns "composite".
func (c *Composite) Name() string { return "composite" }

// Len returns the number of authenticators.
func (c *Composite) Len() int { return len(c.auths) }

func (c *Composite) Supports(ctx context.Context, req *Request) bool {
	for _, a := range c.auths {
		if a.Supports(ctx, req) {
			return true
		}
	}
	return false
}

func (c *Composite) Authenticate(ctx context.Context, req *Request) (*Result, error) {
	var last *Result
	for _, a := range c.auths {
		if !a.Supports(ctx, req) {
			continue
		}
		res, err := a.Authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		if res.Authenticated {
			return res, nil
		}
		last = res
	}
	if last != nil {
		return last, nil
	}
	return Failure(ErrMissingCredentials, ""), nil
}

var _ Authenticator = (*Composite)(nil)
