package health

import "errors"

var (
	// ErrCheckTimeout means a check did not finish before the deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound means no checker is registered under the name.
	ErrCheckerNotFound = errors.New("health: checker not found")
)
