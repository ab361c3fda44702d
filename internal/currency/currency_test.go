package currency

import (
	"context"
	"errors"
	"testing"
	"time"

	isLib "github.com/matryer/is"
	"github.com/shopspring/decimal"

	"tripledger/internal/core"
)

func TestNormalizeFixedTable(t *testing.T) {
	ctx := context.Background()
	n := NewNormalizer(DefaultRates(), "")

	cases := []struct {
		amount    int64
		from, to  string
		want      int64
		converted bool
	}{
		{10000, "EUR", "USD", 10800, true},
		{10000, "CAD", "USD", 10000, false},
		{10000, "USD", "CAD", 10000, false},
		{10000, "EUR", "", 10800, true},
		{10000, "usd", "USD", 10000, true},
		{12700, "GBP", "EUR", 14934, true}, // 127 * 1.27 / 1.08 = 149.3426
		{100000, "INR", "USD", 1200, true},
		{5000, "Beach tokens", "Beach tokens", 5000, true},
	}
	for _, tc := range cases {
		got, converted, err := n.Normalize(ctx, core.Cents(tc.amount), tc.from, tc.to)
		if err != nil {
			t.Fatalf("%s->%s: %v", tc.from, tc.to, err)
		}
		if got.Cents != tc.want || converted != tc.converted {
			t.Errorf("Normalize(%d, %s, %s) = %d, %v; want %d, %v",
				tc.amount, tc.from, tc.to, got.Cents, converted, tc.want, tc.converted)
		}
	}
}

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) Rate(_ context.Context, code string) (decimal.Decimal, bool, error) {
	p.calls++
	if p.err != nil {
		return decimal.Zero, false, p.err
	}
	if code == "EUR" {
		return decimal.RequireFromString("1.10"), true, nil
	}
	return decimal.NewFromInt(1), code == "USD", nil
}

func TestCachedProvider(t *testing.T) {
	is := isLib.New(t)
	ctx := context.Background()
	next := &countingProvider{}
	n := NewNormalizer(NewCachedProvider(next, 8, time.Minute), "USD")

	for i := 0; i < 3; i++ {
		got, converted, err := n.Normalize(ctx, core.Cents(10000), "eur", "usd")
		is.NoErr(err)
		is.True(converted)
		is.Equal(got.Cents, int64(11000))
	}
	is.Equal(next.calls, 2) // EUR and USD fetched once each
}

func TestNormalizeProviderError(t *testing.T) {
	boom := errors.New("rates unavailable")
	n := NewNormalizer(&countingProvider{err: boom}, "USD")
	got, converted, err := n.Normalize(context.Background(), core.Cents(500), "EUR", "USD")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if converted || got.Cents != 500 {
		t.Fatalf("expected unconverted passthrough, got %d %v", got.Cents, converted)
	}
}
