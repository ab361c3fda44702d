package core

// CurrencyTotal aggregates expenses stored in one currency.
type CurrencyTotal struct {
	Currency      string `json:"currency"`
	TotalAmount   Money  `json:"totalAmount"`
	TotalExpenses int    `json:"totalExpenses"`
}

// NormalizedTotal is an approximate total converted with the rate provider.
// Currencies the provider does not know are added unconverted and listed.
type NormalizedTotal struct {
	Currency      string   `json:"currency"`
	TotalAmount   Money    `json:"totalAmount"`
	TotalExpenses int      `json:"totalExpenses"`
	Approximate   bool     `json:"approximate"`
	Unconverted   []string `json:"unconverted,omitempty"`
}

// Summary is the trip summary: authoritative per-currency totals and an
// optional normalized total.
type Summary struct {
	TripID     string           `json:"tripId"`
	ByCurrency []CurrencyTotal  `json:"byCurrency"`
	Normalized *NormalizedTotal `json:"normalized,omitempty"`
}

// PendingShare is a member who still owes their share to the contributor.
type PendingShare struct {
	From   string `json:"from"`
	Amount Money  `json:"amount"`
}

// Settlements describes the settlement state of one expense.
type Settlements struct {
	ExpenseID     string         `json:"expenseId"`
	ContributorID string         `json:"contributorId"`
	Currency      string         `json:"currency"`
	Status        ExpenseStatus  `json:"status"`
	Pending       []PendingShare `json:"pending"`
	TotalPaid     Money          `json:"totalPaid"`
	TotalPending  Money          `json:"totalPending"`
}

// MemberBalance is one member's position in one currency.
type MemberBalance struct {
	UserID     string `json:"userId"`
	Name       string `json:"name,omitempty"`
	Currency   string `json:"currency"`
	Paid       Money  `json:"paid"`
	Owes       Money  `json:"owes"`
	SettledOut Money  `json:"settledOut"`
	SettledIn  Money  `json:"settledIn"`
	Net        Money  `json:"net"`
	// Member is false for users who left the trip but still appear in expenses.
	Member bool `json:"member"`
}

// NormalizedBalance is a member's net position converted to one currency.
type NormalizedBalance struct {
	UserID string `json:"userId"`
	Paid   Money  `json:"paid"`
	Owes   Money  `json:"owes"`
	Net    Money  `json:"net"`
}

// NormalizedBalances is the secondary, approximate view of trip balances.
type NormalizedBalances struct {
	Currency    string              `json:"currency"`
	Approximate bool                `json:"approximate"`
	Unconverted []string            `json:"unconverted,omitempty"`
	Balances    []NormalizedBalance `json:"balances"`
}

// TripBalances groups authoritative per-currency balances with the optional
// normalized view.
type TripBalances struct {
	TripID     string              `json:"tripId"`
	Balances   []MemberBalance     `json:"balances"`
	Normalized *NormalizedBalances `json:"normalized,omitempty"`
}
