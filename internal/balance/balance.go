// Package balance derives each member's paid, owed and net position from
// the stored expenses of a trip.
package balance

import (
	"context"
	"slices"

	"tripledger/internal/core"
)

type key struct {
	user     string
	currency string
}

// Compute returns one record per (member, currency) pair.
//
// Paid is the sum of expenses the member contributed, Owes the sum of the
// member's own shares. Paid shares move money between a debtor and the
// contributor: the debtor's SettledOut and the contributor's SettledIn both
// grow by the share amount, so Net = Paid - Owes + SettledOut - SettledIn
// equals Paid - Owes while nothing is settled and zero once everything is.
//
// Current members come first in membership order, followed by former
// members that still appear in expenses, sorted by id. Every member gets a
// record for each currency used in the trip.
func Compute(members []core.Member, expenses []core.Expense) []core.MemberBalance {
	acc := make(map[key]*core.MemberBalance)
	get := func(user, currency string) *core.MemberBalance {
		k := key{user, currency}
		b, ok := acc[k]
		if !ok {
			b = &core.MemberBalance{UserID: user, Currency: currency}
			acc[k] = b
		}
		return b
	}

	var currencies []string
	var former []string
	current := core.NewMemberSet(members)
	seenFormer := make(map[string]bool)
	noteUser := func(id string) {
		if !current.Has(id) && !seenFormer[id] {
			seenFormer[id] = true
			former = append(former, id)
		}
	}

	for _, e := range expenses {
		if !slices.Contains(currencies, e.Currency) {
			currencies = append(currencies, e.Currency)
		}
		noteUser(e.ContributorID)
		payer := get(e.ContributorID, e.Currency)
		payer.Paid = payer.Paid.Add(e.Amount)

		for _, s := range e.Shares {
			noteUser(s.UserID)
			debtor := get(s.UserID, e.Currency)
			debtor.Owes = debtor.Owes.Add(s.Amount)
			if s.Status == core.SharePaid && s.UserID != e.ContributorID {
				debtor.SettledOut = debtor.SettledOut.Add(s.Amount)
				payer.SettledIn = payer.SettledIn.Add(s.Amount)
			}
		}
	}
	slices.Sort(currencies)
	slices.Sort(former)
	if len(currencies) == 0 {
		currencies = []string{""}
	}

	out := make([]core.MemberBalance, 0, (len(members)+len(former))*len(currencies))
	emit := func(id, name string, isMember bool) {
		for _, cur := range currencies {
			b := get(id, cur)
			b.Name = name
			b.Member = isMember
			b.Net = b.Paid.Sub(b.Owes).Add(b.SettledOut).Sub(b.SettledIn)
			out = append(out, *b)
		}
	}
	for _, m := range members {
		emit(m.UserID, m.Name, true)
	}
	for _, id := range former {
		emit(id, "", false)
	}
	return out
}

// Converter converts an amount between currencies.
type Converter interface {
	Normalize(ctx context.Context, amount core.Money, from, to string) (core.Money, bool, error)
}

// Normalize folds per-currency balances into one approximate total per
// member. Currencies the converter cannot handle are added unconverted and
// listed in Unconverted.
func Normalize(ctx context.Context, balances []core.MemberBalance, conv Converter, to string) (*core.NormalizedBalances, error) {
	out := &core.NormalizedBalances{Currency: to, Approximate: true, Balances: []core.NormalizedBalance{}}
	index := make(map[string]int)

	for _, b := range balances {
		i, ok := index[b.UserID]
		if !ok {
			i = len(out.Balances)
			index[b.UserID] = i
			out.Balances = append(out.Balances, core.NormalizedBalance{UserID: b.UserID})
		}
		if b.Currency == "" {
			continue
		}
		nb := &out.Balances[i]
		var unconverted bool
		for _, f := range []struct {
			from core.Money
			into *core.Money
		}{
			{b.Paid, &nb.Paid},
			{b.Owes, &nb.Owes},
			{b.Net, &nb.Net},
		} {
			v, converted, err := conv.Normalize(ctx, f.from, b.Currency, to)
			if err != nil {
				return nil, err
			}
			unconverted = unconverted || !converted
			*f.into = f.into.Add(v)
		}
		if unconverted && !slices.Contains(out.Unconverted, b.Currency) {
			out.Unconverted = append(out.Unconverted, b.Currency)
		}
	}
	slices.Sort(out.Unconverted)
	return out, nil
}
