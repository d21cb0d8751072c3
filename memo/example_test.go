package memo_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/fingerprint"
	"github.com/jonwraymond/tokencache/kv"
	"github.com/jonwraymond/tokencache/memo"
	"github.com/jonwraymond/tokencache/meta"
	"github.com/jonwraymond/tokencache/token"
)

func ExampleWrap() {
	ctx := context.Background()

	reg, _ := token.NewRegistry(token.NewMemorySource(), token.Config{})
	m, _ := memo.New(memo.DefaultConfig(), memo.Deps{
		Content:  content.New(kv.NewMemory(), content.Config{}),
		Meta:     meta.New(kv.NewMemory()),
		Registry: reg,
	})
	defer m.Close(ctx)

	sig := fingerprint.Signature{
		Owner:  "quotes",
		Name:   "Spread",
		Params: []fingerprint.Param{fingerprint.Required("bid"), fingerprint.Required("ask")},
	}
	spread, _ := memo.Wrap(m, sig, token.NewTag("prices"), func(ctx context.Context, args fingerprint.Args) (int, error) {
		bid, _ := fingerprint.Arg[int](args, "bid")
		ask, _ := fingerprint.Arg[int](args, "ask")
		return ask - bid, nil
	})

	loaded := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = reg.Update(ctx, "prices", loaded)

	for range 2 {
		v, o, _ := spread.CallWithOutcome(ctx, []any{100, 104}, nil)
		fmt.Println(v, o)
	}

	// A new price load makes the entry stale; the recomputed value matches.
	_ = reg.Update(ctx, "prices", loaded.Add(time.Hour))
	v, o, _ := spread.CallWithOutcome(ctx, []any{100, 104}, nil)
	fmt.Println(v, o)
	// Output:
	// 4 miss
	// 4 hit
	// 4 unchanged
}
