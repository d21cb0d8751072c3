package memo

// Outcome classifies one call.
type Outcome int

const (
	Bypass Outcome = iota
	Miss
	Unchanged
	Changed
	Hit
	NotFound
	Corrupted
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Bypass:
		return "bypass"
	case Miss:
		return "miss"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Hit:
		return "hit"
	case NotFound:
		return "not_found"
	case Corrupted:
		return "corrupted"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Cached reports whether the value came from the content store.
func (o Outcome) Cached() bool { return o == Hit }

// Persisted reports whether the call wrote to the stores.
func (o Outcome) Persisted() bool {
	return o == Miss || o == Unchanged || o == Changed
}
