package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"tripledger/internal/core"
	"tripledger/internal/services"
)

const maxBodyBytes = 1 << 20

// errMalformedBody marks request bodies that are not valid JSON.
var errMalformedBody = errors.New("malformed request body")

// decodeJSON reads a single JSON document of at most maxBodyBytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: empty body", errMalformedBody)
		case errors.As(err, &tooLarge):
			return fmt.Errorf("%w: body larger than %d bytes", errMalformedBody, tooLarge.Limit)
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%w: invalid JSON", errMalformedBody)
		case errors.As(err, &typeErr):
			return core.Invalidf("field %s has the wrong type", typeErr.Field)
		}
		// Money and decimal decoding failures are field validation problems.
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON document", errMalformedBody)
	}
	return nil
}

type createExpenseRequest struct {
	TripID        string                     `json:"tripId"`
	ContributorID string                     `json:"contributorId"`
	Amount        core.Money                 `json:"amount"`
	Currency      string                     `json:"currency"`
	Description   string                     `json:"description"`
	Category      string                     `json:"category"`
	Notes         string                     `json:"notes"`
	Date          string                     `json:"date"`
	Participants  []string                   `json:"participants"`
	SplitMode     string                     `json:"splitMode"`
	ManualSplits  map[string]core.Money      `json:"manualSplits"`
	Percentages   map[string]decimal.Decimal `json:"percentages"`
}

// toInput converts the request, defaulting the contributor to the caller.
func (req createExpenseRequest) toInput(actor string) (services.CreateExpenseInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return services.CreateExpenseInput{}, err
	}
	contributor := sanitizeInput(req.ContributorID)
	if contributor == "" {
		contributor = actor
	}
	return services.CreateExpenseInput{
		TripID:        sanitizeInput(req.TripID),
		ContributorID: contributor,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Description:   sanitizeInput(req.Description),
		Category:      req.Category,
		Notes:         sanitizeInput(req.Notes),
		Date:          date,
		Participants:  sanitizeAll(req.Participants),
		SplitMode:     req.SplitMode,
		ManualSplits:  req.ManualSplits,
		Percentages:   req.Percentages,
	}, nil
}

// updateExpenseRequest uses pointers so absent fields stay unchanged.
type updateExpenseRequest struct {
	Amount        *core.Money                `json:"amount"`
	Currency      *string                    `json:"currency"`
	Description   *string                    `json:"description"`
	Category      *string                    `json:"category"`
	Notes         *string                    `json:"notes"`
	ContributorID *string                    `json:"contributorId"`
	Date          *string                    `json:"date"`
	Participants  []string                   `json:"participants"`
	SplitMode     *string                    `json:"splitMode"`
	ManualSplits  map[string]core.Money      `json:"manualSplits"`
	Percentages   map[string]decimal.Decimal `json:"percentages"`
	Version       *int64                     `json:"version"`
}

func (req updateExpenseRequest) toPatch(r *http.Request) (services.ExpensePatch, error) {
	p := services.ExpensePatch{
		Amount:       req.Amount,
		Currency:     req.Currency,
		Category:     req.Category,
		Participants: sanitizeAll(req.Participants),
		SplitMode:    req.SplitMode,
		ManualSplits: req.ManualSplits,
		Percentages:  req.Percentages,
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		p.Description = &d
	}
	if req.Notes != nil {
		n := sanitizeInput(*req.Notes)
		p.Notes = &n
	}
	if req.ContributorID != nil {
		c := sanitizeInput(*req.ContributorID)
		p.ContributorID = &c
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return services.ExpensePatch{}, err
		}
		if d.IsZero() {
			return services.ExpensePatch{}, core.Invalidf("date cannot be cleared")
		}
		p.Date = &d
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		return services.ExpensePatch{}, err
	}
	p.ExpectedVersion = version
	return p, nil
}

type settleShareRequest struct {
	UserID  string `json:"userId"`
	Version *int64 `json:"version"`
}

// toSettle converts the request. Without a userId the caller settles
// their own share.
func (req settleShareRequest) toSettle(r *http.Request, expenseID, actor string) (services.SettleShare, error) {
	user := sanitizeInput(req.UserID)
	if user == "" {
		user = actor
	}
	if user == "" {
		return services.SettleShare{}, core.Invalidf("userId is required")
	}
	version, err := expectedVersion(r, req.Version)
	if err != nil {
		return services.SettleShare{}, err
	}
	return services.SettleShare{
		ExpenseID:       expenseID,
		UserID:          user,
		SettledBy:       actor,
		ExpectedVersion: version,
	}, nil
}

// expectedVersion merges If-Match with the version in the body. Both may
// be given only when they agree.
func expectedVersion(r *http.Request, body *int64) (int64, error) {
	header, ok, err := ifMatchVersion(r)
	if err != nil {
		return 0, err
	}
	switch {
	case body == nil:
		return header, nil
	case *body < 0:
		return 0, core.Invalidf("version must not be negative")
	case ok && header != *body:
		return 0, core.Invalidf("If-Match version %d disagrees with body version %d", header, *body)
	}
	return *body, nil
}
