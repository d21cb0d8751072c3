package fingerprint

import (
	"errors"
	"math"
	"strings"
	"testing"
)

var priceSig = Signature{
	Name:   "Prices",
	Owner:  "example.com/quotes",
	Params: []Param{Required("symbol"), Required("day"), Optional("adjusted", true)},
}

func TestKey_InvariantUnderCallSiteOrder(t *testing.T) {
	fp := New()

	calls := []struct {
		name   string
		args   []any
		kwargs map[string]any
	}{
		{"positional", []any{"ACME", "2024-01-02"}, nil},
		{"named", nil, map[string]any{"day": "2024-01-02", "symbol": "ACME"}},
		{"mixed", []any{"ACME"}, map[string]any{"day": "2024-01-02"}},
		{"explicit default", []any{"ACME", "2024-01-02", true}, nil},
		{"default by name", nil, map[string]any{"adjusted": true, "symbol": "ACME", "day": "2024-01-02"}},
	}

	var want Key
	for i, c := range calls {
		key, bound, err := fp.Key(priceSig, c.args, c.kwargs)
		if err != nil {
			t.Fatalf("%s: Key() error = %v", c.name, err)
		}
		if len(bound) != 3 {
			t.Errorf("%s: bound = %v, want 3 arguments", c.name, bound)
		}
		if i == 0 {
			want = key
			continue
		}
		if key != want {
			t.Errorf("%s: key = %s, want %s", c.name, key, want)
		}
	}
}

func TestKey_RepeatedCallsStable(t *testing.T) {
	fp := New()
	args := []any{"ACME", map[string]any{"b": 2, "a": []any{1, 2, 3}}}
	first, _, err := fp.Key(priceSig, args, nil)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		key, _, _ := fp.Key(priceSig, args, nil)
		if key != first {
			t.Fatalf("iteration %d: key = %s, want %s", i, key, first)
		}
	}
}

func TestKey_DistinguishesInputs(t *testing.T) {
	fp := New()
	base, _, _ := fp.Key(priceSig, []any{"ACME", "2024-01-02"}, nil)

	other, _, _ := fp.Key(priceSig, []any{"ACME", "2024-01-03"}, nil)
	if other == base {
		t.Error("different argument produced the same key")
	}

	renamed := priceSig
	renamed.Name = "Volumes"
	other, _, _ = fp.Key(renamed, []any{"ACME", "2024-01-02"}, nil)
	if other == base {
		t.Error("different function produced the same key")
	}

	withMeta := priceSig
	withMeta.Meta = map[string]any{"schema": 2}
	other, _, _ = fp.Key(withMeta, []any{"ACME", "2024-01-02"}, nil)
	if other == base {
		t.Error("different metadata produced the same key")
	}

	a, _, _ := fp.Key(priceSig, []any{"ACME", []any{1, 2}}, nil)
	b, _, _ := fp.Key(priceSig, []any{"ACME", []any{2, 1}}, nil)
	if a == b {
		t.Error("slice order should be significant")
	}
}

func TestKey_MethodReceiverExcluded(t *testing.T) {
	fp := New()
	sig := Signature{
		Name:   "Report",
		Owner:  "example.com/reports.Builder",
		Kind:   KindMethod,
		Params: []Param{Required("b"), Required("region")},
	}

	k1, bound, err := fp.Key(sig, []any{"builder-1", "emea"}, nil)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if _, ok := bound["b"]; ok {
		t.Errorf("receiver leaked into bound args: %v", bound)
	}
	k2, _, err := fp.Key(sig, []any{"builder-2"}, map[string]any{"region": "emea"})
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	if k1 != k2 {
		t.Error("receiver should not change the key")
	}

	k3, _, err := fp.Key(sig, nil, map[string]any{"b": "builder-3", "region": "emea"})
	if err != nil {
		t.Fatalf("Key() with named receiver error = %v", err)
	}
	if k3 != k1 {
		t.Error("named receiver should not change the key")
	}

	plain := sig
	plain.Kind = KindPlain
	k4, _, _ := fp.Key(plain, []any{"builder-1", "emea"}, nil)
	if k4 == k1 {
		t.Error("a plain call must include its first argument")
	}
}

func TestBind_Errors(t *testing.T) {
	method := Signature{Name: "M", Kind: KindMethod, Params: []Param{Required("self"), Required("x")}}

	tests := []struct {
		name    string
		sig     Signature
		args    []any
		kwargs  map[string]any
		wantErr error
	}{
		{"too many", priceSig, []any{1, 2, 3, 4}, nil, ErrTooManyArgs},
		{"unknown", priceSig, []any{1, 2}, map[string]any{"nope": 1}, ErrUnknownArg},
		{"duplicate", priceSig, []any{"ACME"}, map[string]any{"symbol": "X", "day": 1}, ErrDuplicateArg},
		{"missing", priceSig, []any{"ACME"}, nil, ErrMissingArg},
		{"missing receiver", method, nil, map[string]any{"x": 1}, ErrMissingArg},
		{"receiver twice", method, []any{"r", 1}, map[string]any{"self": "r"}, ErrDuplicateArg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sig.Bind(tt.args, tt.kwargs)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Bind() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestKey_Unencodable(t *testing.T) {
	fp := New()
	for name, v := range map[string]any{
		"channel":  make(chan int),
		"function": func() {},
		"nan":      math.NaN(),
	} {
		_, _, err := fp.Key(priceSig, []any{"ACME", v}, nil)
		if !errors.Is(err, ErrUnencodable) {
			t.Errorf("%s: error = %v, want ErrUnencodable", name, err)
		}
	}
}

func TestCanonical_SortsNestedKeys(t *testing.T) {
	type point struct {
		Y int `json:"y"`
		X int `json:"x"`
	}
	got, err := Canonical(map[string]any{"z": point{Y: 2, X: 1}, "a": map[string]int{"k2": 2, "k1": 1}})
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	want := `{"a":{"k1":1,"k2":2},"z":{"x":1,"y":2}}`
	if string(got) != want {
		t.Errorf("Canonical() = %s, want %s", got, want)
	}
}

func TestKey_StringRoundTrip(t *testing.T) {
	key, _, _ := New().Key(priceSig, []any{"ACME", "d"}, nil)
	s := key.String()
	if len(s) != 2*Size || strings.ToLower(s) != s {
		t.Errorf("String() = %q, want %d lowercase hex chars", s, 2*Size)
	}
	parsed, err := ParseKey(s)
	if err != nil || parsed != key {
		t.Errorf("ParseKey() = %v, %v", parsed, err)
	}
	if _, err := ParseKey("zz"); err == nil {
		t.Error("ParseKey(zz) should fail")
	}
}

func TestArg(t *testing.T) {
	args := Args{"n": 3, "s": "x", "nil": nil}
	if n, err := Arg[int](args, "n"); err != nil || n != 3 {
		t.Errorf("Arg[int] = %v, %v", n, err)
	}
	if _, err := Arg[string](args, "n"); err == nil {
		t.Error("Arg[string] on an int should fail")
	}
	if _, err := Arg[int](args, "missing"); !errors.Is(err, ErrMissingArg) {
		t.Errorf("Arg(missing) error = %v", err)
	}
	if v, err := Arg[*int](args, "nil"); err != nil || v != nil {
		t.Errorf("Arg(nil) = %v, %v", v, err)
	}
}
