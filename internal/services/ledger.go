package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripledger/internal/audit"
	"tripledger/internal/core"
	"tripledger/internal/currency"
	"tripledger/internal/log"
	"tripledger/internal/membership"
	"tripledger/internal/metrics"
	"tripledger/internal/notify"
	"tripledger/internal/settlement"
	"tripledger/internal/split"
	"tripledger/internal/storage"
)

// AuditLogger queues audit events without blocking.
type AuditLogger interface {
	Log(e audit.Event) bool
}

// Invalidator drops derived data for a trip after a mutation.
type Invalidator interface {
	Invalidate(tripID string)
}

// LedgerService owns every ledger mutation. The store commit is the source
// of truth; notifications, audit events and cache invalidation follow a
// successful commit and never undo it.
type LedgerService struct {
	repo       storage.Repository
	members    membership.Resolver
	splitter   *split.Calculator
	normalizer *currency.Normalizer
	notifier   notify.Publisher
	auditor    AuditLogger
	caches     []Invalidator
	locks      *keyedMutex
	logger     *log.Logger
	sl         *log.StructuredLogger
	now        func() time.Time
	newID      func() string
	pageSize   int
}

type Option func(*LedgerService)

func WithNotifier(p notify.Publisher) Option {
	return func(s *LedgerService) { s.notifier = p }
}

func WithAuditor(a AuditLogger) Option {
	return func(s *LedgerService) { s.auditor = a }
}

func WithInvalidator(inv Invalidator) Option {
	return func(s *LedgerService) { s.caches = append(s.caches, inv) }
}

func WithNormalizer(n *currency.Normalizer) Option {
	return func(s *LedgerService) { s.normalizer = n }
}

func WithCalculator(c *split.Calculator) Option {
	return func(s *LedgerService) { s.splitter = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(s *LedgerService) { s.newID = f }
}

func WithPageSize(n int) Option {
	return func(s *LedgerService) { s.pageSize = n }
}

func NewLedgerService(repo storage.Repository, members membership.Resolver, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:     repo,
		members:  members,
		splitter: split.NewCalculator(),
		locks:    newKeyedMutex(),
		now:      time.Now,
		newID:    uuid.NewString,
		pageSize: storage.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.normalizer == nil {
		s.normalizer = currency.NewNormalizer(currency.DefaultRates(), "")
	}
	if s.logger == nil {
		s.logger = log.New(log.DefaultConfig())
	}
	s.logger = s.logger.WithComponent(log.ComponentLedger)
	s.sl = log.NewStructuredLogger(s.logger)
	return s
}

// timestamp truncates to the millisecond precision every backend keeps.
func (s *LedgerService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create validates, splits and stores a new expense.
func (s *LedgerService) Create(ctx context.Context, in CreateExpenseInput) (core.Expense, error) {
	e, err := s.buildExpense(ctx, in)
	if err != nil {
		return core.Expense{}, s.reject(log.OpCreate, err)
	}

	seq, err := s.repo.CreateExpense(ctx, e)
	if err != nil {
		return core.Expense{}, s.reject(log.OpCreate, fmt.Errorf("create expense: %w", err))
	}

	s.committed(ctx, log.OpCreate, e, seq, notify.NewExpense, notify.ExpensePayload{TripID: e.TripID, Expense: e})
	return e, nil
}

func (s *LedgerService) buildExpense(ctx context.Context, in CreateExpenseInput) (core.Expense, error) {
	category, err := core.ParseCategory(in.Category)
	if err != nil {
		return core.Expense{}, err
	}
	mode, err := core.ParseSplitMode(in.SplitMode)
	if err != nil {
		return core.Expense{}, err
	}
	cur, err := core.NormalizeCurrency(in.Currency)
	if err != nil {
		return core.Expense{}, err
	}

	now := s.timestamp()
	date := in.Date
	if date.IsZero() {
		date = now
	}
	e := core.Expense{
		TripID:        strings.TrimSpace(in.TripID),
		Amount:        in.Amount,
		Currency:      cur,
		Description:   strings.TrimSpace(in.Description),
		Category:      category,
		Notes:         strings.TrimSpace(in.Notes),
		ContributorID: strings.TrimSpace(in.ContributorID),
		Date:          date.UTC().Truncate(time.Millisecond),
		Status:        core.ExpensePending,
		SplitMode:     mode,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	members, err := s.tripMembers(ctx, e.TripID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := requireMembers(members, e.TripID, ActorFrom(ctx), e.ContributorID); err != nil {
		return core.Expense{}, err
	}
	e.Shares, err = s.splitter.Calculate(split.Request{
		TripID:       e.TripID,
		Amount:       e.Amount,
		Currency:     e.Currency,
		Participants: in.Participants,
		Mode:         mode,
		ManualSplits: in.ManualSplits,
		Percentages:  in.Percentages,
	}, members)
	if err != nil {
		return core.Expense{}, err
	}
	e.ID = s.newID()
	return e, nil
}

// Get returns one expense.
func (s *LedgerService) Get(ctx context.Context, id string) (core.Expense, error) {
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %s: %w", id, err)
	}
	return e, nil
}

// Update applies patch to an expense. See ExpensePatch for the re-split rules.
func (s *LedgerService) Update(ctx context.Context, id string, patch ExpensePatch) (core.Expense, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, s.reject(log.OpUpdate, fmt.Errorf("update expense %s: %w", id, err))
	}
	if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.Version {
		return core.Expense{}, s.reject(log.OpUpdate, fmt.Errorf("update expense %s at version %d (stored %d): %w",
			id, patch.ExpectedVersion, cur.Version, core.ErrConcurrencyConflict))
	}

	next, err := s.applyPatch(ctx, cur, patch)
	if err != nil {
		return core.Expense{}, s.reject(log.OpUpdate, err)
	}

	seq, err := s.repo.UpdateExpense(ctx, next, cur.Version)
	if err != nil {
		return core.Expense{}, s.reject(log.OpUpdate, fmt.Errorf("update expense %s: %w", id, err))
	}

	s.committed(ctx, log.OpUpdate, next, seq, notify.ExpenseUpdated, notify.ExpensePayload{TripID: next.TripID, Expense: next})
	return next, nil
}

func (s *LedgerService) applyPatch(ctx context.Context, cur core.Expense, p ExpensePatch) (core.Expense, error) {
	e := cur.Clone()
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Currency != nil {
		c, err := core.NormalizeCurrency(*p.Currency)
		if err != nil {
			return core.Expense{}, err
		}
		e.Currency = c
	}
	if p.Description != nil {
		e.Description = strings.TrimSpace(*p.Description)
	}
	if p.Category != nil {
		c, err := core.ParseCategory(*p.Category)
		if err != nil {
			return core.Expense{}, err
		}
		e.Category = c
	}
	if p.Notes != nil {
		e.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.ContributorID != nil {
		e.ContributorID = strings.TrimSpace(*p.ContributorID)
	}
	if p.Date != nil {
		e.Date = p.Date.UTC().Truncate(time.Millisecond)
	}
	if p.SplitMode != nil {
		m, err := core.ParseSplitMode(*p.SplitMode)
		if err != nil {
			return core.Expense{}, err
		}
		e.SplitMode = m
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	members, err := s.tripMembers(ctx, e.TripID)
	if err != nil {
		return core.Expense{}, err
	}
	if err := requireMembers(members, e.TripID, ActorFrom(ctx), e.ContributorID); err != nil {
		return core.Expense{}, err
	}

	participants := cur.Participants()
	if p.Participants != nil {
		participants = split.Dedupe(p.Participants)
	}
	resplit := e.Amount != cur.Amount || e.SplitMode != cur.SplitMode ||
		!slices.Equal(participants, cur.Participants())
	if resplit || p.ManualSplits != nil || p.Percentages != nil {
		shares, err := s.splitter.Calculate(split.Request{
			TripID:       e.TripID,
			Amount:       e.Amount,
			Currency:     e.Currency,
			Participants: participants,
			Mode:         e.SplitMode,
			ManualSplits: p.ManualSplits,
			Percentages:  p.Percentages,
		}, members)
		if err != nil {
			return core.Expense{}, err
		}
		// resubmitted splits that produce the stored amounts keep payments
		if resplit || !sameAmounts(shares, cur.Shares) {
			e.Shares = shares
		}
	}

	e.Status = settlement.DeriveStatus(e.Shares)
	e.Version = cur.Version + 1
	e.UpdatedAt = s.timestamp()
	return e, nil
}

// Delete removes an expense. Deleting a missing expense reports false and
// no error.
func (s *LedgerService) Delete(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, s.reject(log.OpDelete, fmt.Errorf("delete expense %s: %w", id, err))
	}
	if actor := ActorFrom(ctx); actor != "" {
		members, err := s.tripMembers(ctx, cur.TripID)
		if err != nil {
			return false, s.reject(log.OpDelete, err)
		}
		if err := requireMembers(members, cur.TripID, actor); err != nil {
			return false, s.reject(log.OpDelete, err)
		}
	}

	tripID, seq, deleted, err := s.repo.DeleteExpense(ctx, id)
	if err != nil {
		return false, s.reject(log.OpDelete, fmt.Errorf("delete expense %s: %w", id, err))
	}
	if !deleted {
		return false, nil
	}

	cur.TripID = tripID
	s.committed(ctx, log.OpDelete, cur, seq, notify.ExpenseDeleted, notify.DeletedPayload{TripID: tripID, ExpenseID: id})
	return true, nil
}

// MarkSharePaid settles one share. Settling a share that is already paid
// returns the stored expense without writing or notifying.
func (s *LedgerService) MarkSharePaid(ctx context.Context, req SettleShare) (core.Expense, error) {
	unlock := s.locks.Lock(req.ExpenseID)
	defer unlock()

	e, err := s.repo.GetExpense(ctx, req.ExpenseID)
	if err != nil {
		return core.Expense{}, s.reject(log.OpSettle, fmt.Errorf("settle expense %s: %w", req.ExpenseID, err))
	}
	prev := e.Version

	if actor := ActorFrom(ctx); actor != "" {
		members, err := s.tripMembers(ctx, e.TripID)
		if err != nil {
			return core.Expense{}, s.reject(log.OpSettle, err)
		}
		if err := requireMembers(members, e.TripID, actor); err != nil {
			return core.Expense{}, s.reject(log.OpSettle, err)
		}
	}

	changed, err := settlement.MarkPaid(&e, req.UserID, req.SettledBy, s.timestamp())
	if err != nil {
		return core.Expense{}, s.reject(log.OpSettle, err)
	}
	if !changed {
		return e, nil
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != prev {
		return core.Expense{}, s.reject(log.OpSettle, fmt.Errorf("settle expense %s at version %d (stored %d): %w",
			e.ID, req.ExpectedVersion, prev, core.ErrConcurrencyConflict))
	}
	e.Version = prev + 1
	e.UpdatedAt = s.timestamp()

	seq, err := s.repo.UpdateExpense(ctx, e, prev)
	if err != nil {
		return core.Expense{}, s.reject(log.OpSettle, fmt.Errorf("settle expense %s: %w", e.ID, err))
	}

	share := e.Shares[e.ShareIndex(req.UserID)]
	s.committed(ctx, log.OpSettle, e, seq, notify.ExpenseSettled, notify.SettledPayload{
		TripID:    e.TripID,
		ExpenseID: e.ID,
		UserID:    req.UserID,
		SettledBy: share.SettledBy,
		Status:    e.Status,
	})
	return e, nil
}

// GetSettlements reports who still owes the contributor of an expense.
func (s *LedgerService) GetSettlements(ctx context.Context, expenseID string) (core.Settlements, error) {
	e, err := s.repo.GetExpense(ctx, expenseID)
	if err != nil {
		return core.Settlements{}, fmt.Errorf("settlements for expense %s: %w", expenseID, err)
	}
	return settlement.Summarize(e), nil
}

// ListByTrip yields a trip's expenses, newest first. The sequence reads the
// store page by page and can be iterated again to restart from the top.
func (s *LedgerService) ListByTrip(ctx context.Context, tripID string, opts ListOptions) iter.Seq2[core.Expense, error] {
	size := opts.PageSize
	if size <= 0 {
		size = s.pageSize
	}
	return storage.Expenses(ctx, s.repo, storage.ListQuery{TripID: tripID, Status: opts.Status, Limit: size})
}

// ListPage returns one page of a trip's expenses for paginated clients.
func (s *LedgerService) ListPage(ctx context.Context, q storage.ListQuery) (storage.Page, error) {
	if q.Limit <= 0 {
		q.Limit = s.pageSize
	}
	if q.Status != "" && !q.Status.Valid() {
		return storage.Page{}, core.Invalidf("unknown status %q", q.Status)
	}
	page, err := s.repo.ListExpenses(ctx, q)
	if err != nil {
		return storage.Page{}, fmt.Errorf("list trip %s: %w", q.TripID, err)
	}
	return page, nil
}

// GetSummary totals a trip per currency. With normalizeTo set it adds an
// approximate total converted with the rate provider.
func (s *LedgerService) GetSummary(ctx context.Context, tripID, normalizeTo string) (core.Summary, error) {
	totals, err := s.repo.TotalsByCurrency(ctx, tripID)
	if err != nil {
		return core.Summary{}, fmt.Errorf("summary for trip %s: %w", tripID, err)
	}
	sum := core.Summary{TripID: tripID, ByCurrency: totals}
	if sum.ByCurrency == nil {
		sum.ByCurrency = []core.CurrencyTotal{}
	}
	if normalizeTo == "" {
		return sum, nil
	}

	to, err := core.NormalizeCurrency(normalizeTo)
	if err != nil {
		return core.Summary{}, err
	}
	n := &core.NormalizedTotal{Currency: to, Approximate: true}
	for _, t := range totals {
		v, converted, err := s.normalizer.Normalize(ctx, t.TotalAmount, t.Currency, to)
		if err != nil {
			return core.Summary{}, fmt.Errorf("normalize %s: %w", t.Currency, err)
		}
		if !converted {
			n.Unconverted = append(n.Unconverted, t.Currency)
		}
		n.TotalAmount = n.TotalAmount.Add(v)
		n.TotalExpenses += t.TotalExpenses
	}
	slices.Sort(n.Unconverted)
	sum.Normalized = n
	return sum, nil
}

// TripSequence is the last sequence issued for a trip. Clients use it as
// their baseline when they fetch authoritative state.
func (s *LedgerService) TripSequence(ctx context.Context, tripID string) (int64, error) {
	seq, err := s.repo.TripSequence(ctx, tripID)
	if err != nil {
		return 0, fmt.Errorf("sequence for trip %s: %w", tripID, err)
	}
	return seq, nil
}

func (s *LedgerService) tripMembers(ctx context.Context, tripID string) (core.MemberSet, error) {
	members, err := s.members.GetMembers(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("members of trip %s: %w", tripID, err)
	}
	return core.NewMemberSet(members), nil
}

func sameAmounts(a, b []core.Share) bool {
	return slices.EqualFunc(a, b, func(x, y core.Share) bool {
		return x.UserID == y.UserID && x.Amount == y.Amount
	})
}

func requireMembers(members core.MemberSet, tripID string, userIDs ...string) error {
	for _, id := range userIDs {
		if id != "" && !members.Has(id) {
			return &core.MembershipError{TripID: tripID, UserID: id}
		}
	}
	return nil
}

func (s *LedgerService) reject(op string, err error) error {
	metrics.LedgerRejections.WithLabelValues(op, ErrorKind(err)).Inc()
	return err
}

// committed runs the post-commit side effects. None of them can fail the
// operation.
func (s *LedgerService) committed(ctx context.Context, op string, e core.Expense, seq int64, typ notify.EventType, payload any) {
	metrics.LedgerMutations.WithLabelValues(op).Inc()
	s.sl.LogLedgerMutation(ctx, op, e.ID, e.TripID, e.Amount.Cents, e.Currency, seq)

	for _, c := range s.caches {
		c.Invalidate(e.TripID)
	}

	if s.auditor != nil {
		s.auditor.Log(audit.NewEvent(
			audit.WithType(string(typ)),
			audit.WithTrip(e.TripID),
			audit.WithExpense(e.ID),
			audit.WithActor(ActorFrom(ctx)),
			audit.WithSequence(seq),
			audit.WithData(payload),
		))
	}

	if s.notifier == nil {
		return
	}
	ev, err := notify.NewEvent(typ, e.TripID, seq, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build event", log.FieldError, err, log.FieldEventType, typ)
		return
	}
	s.notifier.Publish(ev)
}
