package balance

import (
	"context"
	"testing"
	"time"

	isLib "github.com/matryer/is"

	"tripledger/internal/core"
	"tripledger/internal/currency"
	"tripledger/internal/settlement"
)

var members = []core.Member{{UserID: "A", Name: "Ann"}, {UserID: "B", Name: "Ben"}, {UserID: "C", Name: "Cat"}}

func expense(id, payer, cur string, shares ...core.Share) core.Expense {
	e := core.Expense{ID: id, ContributorID: payer, Currency: cur, Shares: shares, Status: core.ExpensePending}
	e.Amount = core.SumShares(shares)
	return e
}

func share(user string, cents int64) core.Share {
	return core.Share{UserID: user, Amount: core.Cents(cents), Status: core.SharePending}
}

func find(t *testing.T, bs []core.MemberBalance, user, cur string) core.MemberBalance {
	t.Helper()
	for _, b := range bs {
		if b.UserID == user && b.Currency == cur {
			return b
		}
	}
	t.Fatalf("no balance for %s/%s", user, cur)
	return core.MemberBalance{}
}

func TestComputeUnsettled(t *testing.T) {
	is := isLib.New(t)
	expenses := []core.Expense{
		expense("e1", "A", "USD", share("A", 3000), share("B", 3000), share("C", 3000)),
		expense("e2", "B", "USD", share("A", 1000), share("B", 1000)),
	}
	bs := Compute(members, expenses)
	is.Equal(len(bs), 3)

	a := find(t, bs, "A", "USD")
	is.Equal(a.Paid, core.Cents(9000))
	is.Equal(a.Owes, core.Cents(4000))
	is.Equal(a.Net, core.Cents(5000))
	is.Equal(a.Name, "Ann")

	b := find(t, bs, "B", "USD")
	is.Equal(b.Net, core.Cents(2000-4000))

	c := find(t, bs, "C", "USD")
	is.Equal(c.Paid, core.Cents(0))
	is.Equal(c.Net, core.Cents(-3000))

	var total int64
	for _, x := range bs {
		total += x.Net.Cents
	}
	is.Equal(total, int64(0))
}

func TestComputeNetZeroAfterFullSettlement(t *testing.T) {
	expenses := []core.Expense{
		expense("e1", "A", "USD", share("A", 3334), share("B", 3333), share("C", 3333)),
		expense("e2", "C", "EUR", share("B", 2500), share("C", 2500)),
		expense("e3", "B", "USD", share("A", 700)),
	}
	for i := range expenses {
		for _, s := range expenses[i].Shares {
			if _, err := settlement.MarkPaid(&expenses[i], s.UserID, "", time.Now()); err != nil {
				t.Fatalf("MarkPaid: %v", err)
			}
		}
	}
	for _, b := range Compute(members, expenses) {
		if !b.Net.IsZero() {
			t.Errorf("%s/%s net = %s, want 0", b.UserID, b.Currency, b.Net)
		}
	}
}

func TestComputePartialSettlementMovesNet(t *testing.T) {
	is := isLib.New(t)
	e := expense("e1", "A", "USD", share("A", 3000), share("B", 3000), share("C", 3000))
	settlement.MarkPaid(&e, "B", "", time.Now())

	bs := Compute(members, []core.Expense{e})
	is.Equal(find(t, bs, "B", "USD").Net, core.Cents(0))
	is.Equal(find(t, bs, "A", "USD").Net, core.Cents(3000))
	is.Equal(find(t, bs, "C", "USD").Net, core.Cents(-3000))
}

func TestComputeMixedCurrenciesAndFormerMembers(t *testing.T) {
	is := isLib.New(t)
	expenses := []core.Expense{
		expense("e1", "A", "USD", share("A", 1000), share("Z", 1000)),
		expense("e2", "B", "EUR", share("B", 500), share("C", 500)),
	}
	bs := Compute(members, expenses)
	// three members plus Z, two currencies each
	is.Equal(len(bs), 8)
	is.Equal(bs[0].UserID, "A")
	is.Equal(bs[0].Currency, "EUR")
	z := find(t, bs, "Z", "USD")
	is.True(!z.Member)
	is.Equal(z.Net, core.Cents(-1000))
	is.Equal(find(t, bs, "C", "EUR").Net, core.Cents(-500))
}

func TestComputeEmptyTrip(t *testing.T) {
	is := isLib.New(t)
	bs := Compute(members, nil)
	is.Equal(len(bs), 3)
	for _, b := range bs {
		is.True(b.Net.IsZero())
	}
}

func TestNormalize(t *testing.T) {
	is := isLib.New(t)
	expenses := []core.Expense{
		expense("e1", "A", "EUR", share("A", 5000), share("B", 5000)),
		expense("e2", "B", "USD", share("A", 2000), share("B", 2000)),
		expense("e3", "A", "CAD", share("B", 1000)),
	}
	bs := Compute(members[:2], expenses)
	n, err := Normalize(context.Background(), bs, currency.NewNormalizer(nil, "USD"), "USD")
	is.NoErr(err)
	is.True(n.Approximate)
	is.Equal(n.Unconverted, []string{"CAD"})
	is.Equal(len(n.Balances), 2)

	a := n.Balances[0]
	is.Equal(a.UserID, "A")
	// EUR 100 paid -> 108 USD, plus CAD 10 unconverted
	is.Equal(a.Paid, core.Cents(10800+1000))
	// EUR 50 -> 54 USD, plus USD 20
	is.Equal(a.Owes, core.Cents(5400+2000))
}
