package core

import (
	"slices"
	"strings"
	"time"
	"unicode"
)

const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryAccommodation Category = "accommodation"
	CategoryActivities    Category = "activities"
	CategoryShopping      Category = "shopping"
	CategoryOther         Category = "other"

	ExpensePending ExpenseStatus = "pending"
	ExpenseSettled ExpenseStatus = "settled"

	SharePending ShareStatus = "pending"
	SharePaid    ShareStatus = "paid"

	SplitAuto       SplitMode = "auto"
	SplitManual     SplitMode = "manual"
	SplitPercentage SplitMode = "percentage"
)

const (
	maxDescriptionLen = 200
	maxNotesLen       = 2000
	maxCurrencyLen    = 32
)

type (
	Category      string
	ExpenseStatus string
	ShareStatus   string
	SplitMode     string

	// Member is a trip member as reported by the membership resolver.
	Member struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}

	// Trip is owned externally; the ledger only reads its membership.
	Trip struct {
		ID        string   `json:"id"`
		CreatorID string   `json:"creatorId"`
		Members   []Member `json:"members"`
	}

	// Share is one member's portion of an expense, in the expense currency.
	Share struct {
		UserID    string      `json:"userId"`
		Amount    Money       `json:"amount"`
		Status    ShareStatus `json:"status"`
		PaidAt    *time.Time  `json:"paidAt,omitempty"`
		SettledBy string      `json:"settledBy,omitempty"`
	}

	Expense struct {
		ID            string        `json:"id"`
		TripID        string        `json:"tripId"`
		Amount        Money         `json:"amount"`
		Currency      string        `json:"currency"`
		Description   string        `json:"description"`
		Category      Category      `json:"category"`
		Notes         string        `json:"notes,omitempty"`
		ContributorID string        `json:"contributorId"`
		Date          time.Time     `json:"date"`
		Status        ExpenseStatus `json:"status"`
		SplitMode     SplitMode     `json:"splitMode"`
		Shares        []Share       `json:"shares"`
		Version       int64         `json:"version"`
		CreatedAt     time.Time     `json:"createdAt"`
		UpdatedAt     time.Time     `json:"updatedAt"`
	}
)

// ParseCategory maps free input to a category; empty input means other.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryOther, nil
	}
	if !c.Valid() {
		return "", Invalidf("unknown category %q", s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryTransport, CategoryAccommodation,
		CategoryActivities, CategoryShopping, CategoryOther:
		return true
	}
	return false
}

// ParseSplitMode maps free input to a split mode; empty input means auto.
func ParseSplitMode(s string) (SplitMode, error) {
	m := SplitMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return SplitAuto, nil
	case SplitAuto, SplitManual, SplitPercentage:
		return m, nil
	}
	return "", Invalidf("unknown split mode %q", s)
}

func (s ExpenseStatus) Valid() bool {
	return s == ExpensePending || s == ExpenseSettled
}

// NormalizeCurrency upper-cases ISO-looking codes and keeps custom labels as typed.
func NormalizeCurrency(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Invalidf("currency is required")
	}
	if len(s) > maxCurrencyLen {
		return "", Invalidf("currency too long (max %d characters)", maxCurrencyLen)
	}
	if len(s) == 3 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) || r > unicode.MaxASCII }) < 0 {
		return strings.ToUpper(s), nil
	}
	return s, nil
}

// Validate checks the expense fields that do not depend on trip membership.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.TripID) == "" {
		return Invalidf("tripId is required")
	}
	if strings.TrimSpace(e.ContributorID) == "" {
		return Invalidf("contributorId is required")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Description) == "" {
		return Invalidf("description is required")
	}
	if len(e.Description) > maxDescriptionLen {
		return Invalidf("description too long (max %d characters)", maxDescriptionLen)
	}
	if len(e.Notes) > maxNotesLen {
		return Invalidf("notes too long (max %d characters)", maxNotesLen)
	}
	if !e.Category.Valid() {
		return Invalidf("unknown category %q", e.Category)
	}
	if e.Date.IsZero() {
		return Invalidf("date is required")
	}
	return nil
}

// Participants returns the share holders in share order.
func (e Expense) Participants() []string {
	ids := make([]string, len(e.Shares))
	for i, s := range e.Shares {
		ids[i] = s.UserID
	}
	return ids
}

// ShareIndex returns the index of userID's share or -1.
func (e Expense) ShareIndex(userID string) int {
	return slices.IndexFunc(e.Shares, func(s Share) bool { return s.UserID == userID })
}

// Clone returns a deep copy so callers can mutate shares safely.
func (e Expense) Clone() Expense {
	c := e
	c.Shares = make([]Share, len(e.Shares))
	for i, s := range e.Shares {
		c.Shares[i] = s
		if s.PaidAt != nil {
			t := *s.PaidAt
			c.Shares[i].PaidAt = &t
		}
	}
	return c
}

// MemberSet indexes trip members by user id.
type MemberSet map[string]Member

func NewMemberSet(members []Member) MemberSet {
	set := make(MemberSet, len(members))
	for _, m := range members {
		set[m.UserID] = m
	}
	return set
}

func (s MemberSet) Has(userID string) bool {
	_, ok := s[userID]
	return ok
}
