package secret

import "errors"

var (
	// ErrMissingEnv means a ${VAR} reference names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variables")

	// ErrInvalidRef means a reference has no provider or no ref part.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrUnknownProvider means no provider is registered under the name.
	ErrUnknownProvider = errors.New("secret: provider not registered")

	// ErrDuplicateProvider means a factory name is taken.
	ErrDuplicateProvider = errors.New("secret: provider already registered")

	// ErrEmptySecret means a strict resolver got an empty value.
	ErrEmptySecret = errors.New("secret: provider returned empty value")

	// ErrNotFound means the provider has no secret under the ref.
	ErrNotFound = errors.New("secret: not found")
)
