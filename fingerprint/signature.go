package fingerprint

import (
	"errors"
	"fmt"
)

// Binding errors.
var (
	ErrTooManyArgs  = errors.New("fingerprint: too many positional arguments")
	ErrUnknownArg   = errors.New("fingerprint: unknown argument")
	ErrDuplicateArg = errors.New("fingerprint: argument bound twice")
	ErrMissingArg   = errors.New("fingerprint: missing required argument")
)

// Kind tells whether the first declared parameter is a receiver.
type Kind int

const (
	// KindPlain is a free function or static call; every argument counts.
	KindPlain Kind = iota
	// KindMethod binds the first parameter as the receiver and leaves it out
	// of the identity.
	KindMethod
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindMethod:
		return "method"
	default:
		return "unknown"
	}
}

// Param is one declared parameter.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter without a default.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Signature describes a memoized function.
type Signature struct {
	// Name of the function, e.g. "Report" or "LoadPrices".
	Name string

	// Owner qualifies Name: a package path, or "pkg.Type" for methods.
	Owner string

	// Kind of call. For KindMethod, Params[0] is the receiver.
	Kind Kind

	// Params in declaration order.
	Params []Param

	// Meta is static metadata folded into every key.
	Meta map[string]any
}

// Identity returns the fully qualified function name.
func (s Signature) Identity() string {
	if s.Owner == "" {
		return s.Name
	}
	return s.Owner + "." + s.Name
}

// Args is a bound, order-independent argument mapping.
type Args map[string]any

// Arg returns the named argument converted to T.
func Arg[T any](args Args, name string) (T, error) {
	var zero T
	v, ok := args[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingArg, name)
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("fingerprint: argument %s is %T, not %T", name, v, zero)
	}
	return t, nil
}

// Bind binds positional arguments in declaration order, then named
// arguments, then defaults. For KindMethod the receiver is bound (it must be
// supplied) but is not part of the returned mapping.
func (s Signature) Bind(args []any, kwargs map[string]any) (Args, error) {
	params := s.Params
	if s.Kind == KindMethod {
		if len(params) == 0 {
			return nil, fmt.Errorf("fingerprint: method %s declares no receiver", s.Identity())
		}
		recv := params[0].Name
		_, named := kwargs[recv]
		switch {
		case len(args) > 0 && named:
			return nil, fmt.Errorf("%w: %s", ErrDuplicateArg, recv)
		case len(args) > 0:
			args = args[1:]
		case !named:
			return nil, fmt.Errorf("%w: receiver %s", ErrMissingArg, recv)
		}
		params = params[1:]
		if named {
			rest := make(map[string]any, len(kwargs)-1)
			for k, v := range kwargs {
				if k != recv {
					rest[k] = v
				}
			}
			kwargs = rest
		}
	}

	if len(args) > len(params) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrTooManyArgs, s.Identity(), len(params), len(args))
	}

	bound := make(Args, len(params))
	for i, v := range args {
		bound[params[i].Name] = v
	}

	declared := make(map[string]bool, len(params))
	for _, p := range params {
		declared[p.Name] = true
	}
	for name, v := range kwargs {
		if !declared[name] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownArg, name)
		}
		if _, dup := bound[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateArg, name)
		}
		bound[name] = v
	}

	for _, p := range params {
		if _, ok := bound[p.Name]; ok {
			continue
		}
		if !p.HasDefault {
			return nil, fmt.Errorf("%w: %s", ErrMissingArg, p.Name)
		}
		bound[p.Name] = p.Default
	}
	return bound, nil
}
