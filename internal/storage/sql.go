package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"tripledger/internal/core"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLStore implements Store on SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies migrations.
func OpenSQLite(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

	if err := RunSQLiteMigrations(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &SQLStore{db: db, dialect: SQLite}, nil
}

// OpenPostgres connects with lib/pq and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunPostgresMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: Postgres}, nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction. Once started, the transaction is not
// cancelled by the caller's context.
func (s *SQLStore) withTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) bumpSequence(ctx context.Context, q execer, tripID string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, s.rebind(
		`INSERT INTO trip_sequences (trip_id, seq) VALUES (?, 1)
		 ON CONFLICT (trip_id) DO UPDATE SET seq = trip_sequences.seq + 1
		 RETURNING seq`), tripID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("bump trip sequence: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) insertShares(ctx context.Context, q execer, e core.Expense) error {
	stmt := s.rebind(`INSERT INTO expense_shares
		(expense_id, position, user_id, amount_cents, status, paid_at, settled_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, sh := range e.Shares {
		var paidAt sql.NullInt64
		if sh.PaidAt != nil {
			paidAt = sql.NullInt64{Int64: sh.PaidAt.UnixMilli(), Valid: true}
		}
		if _, err := q.ExecContext(ctx, stmt, e.ID, i, sh.UserID, sh.Amount.Cents,
			string(sh.Status), paidAt, sh.SettledBy); err != nil {
			return fmt.Errorf("insert share %s: %w", sh.UserID, err)
		}
	}
	return nil
}

func (s *SQLStore) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO expenses
			(id, trip_id, amount_cents, currency, description, category, notes,
			 contributor_id, split_mode, status, expense_date, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.TripID, e.Amount.Cents, e.Currency, e.Description, string(e.Category), e.Notes,
			e.ContributorID, string(e.SplitMode), string(e.Status), e.Date.UnixMilli(), e.Version,
			e.CreatedAt.UnixMilli(), e.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		if err := s.insertShares(ctx, tx, e); err != nil {
			return err
		}
		seq, err = s.bumpSequence(ctx, tx, e.TripID)
		return err
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Expense stored",
		"expense_id", e.ID,
		"trip_id", e.TripID,
		"amount_cents", e.Amount.Cents,
		"shares", len(e.Shares),
		"sequence", seq)
	return seq, nil
}

func (s *SQLStore) UpdateExpense(ctx context.Context, e core.Expense, expectedVersion int64) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE expenses SET
			amount_cents = ?, currency = ?, description = ?, category = ?, notes = ?,
			contributor_id = ?, split_mode = ?, status = ?, expense_date = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`),
			e.Amount.Cents, e.Currency, e.Description, string(e.Category), e.Notes,
			e.ContributorID, string(e.SplitMode), string(e.Status), e.Date.UnixMilli(), e.Version,
			e.UpdatedAt.UnixMilli(), e.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM expenses WHERE id = ?`), e.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return core.ErrExpenseNotFound
			}
			if err != nil {
				return fmt.Errorf("check expense: %w", err)
			}
			return fmt.Errorf("%w: expense %s is not at version %d", core.ErrConcurrencyConflict, e.ID, expectedVersion)
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM expense_shares WHERE expense_id = ?`), e.ID); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		if err := s.insertShares(ctx, tx, e); err != nil {
			return err
		}
		seq, err = s.bumpSequence(ctx, tx, e.TripID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *SQLStore) DeleteExpense(ctx context.Context, id string) (string, int64, bool, error) {
	var (
		tripID  string
		seq     int64
		deleted bool
	)
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT trip_id FROM expenses WHERE id = ?`), id).Scan(&tripID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load expense: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM expense_shares WHERE expense_id = ?`), id); err != nil {
			return fmt.Errorf("delete shares: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM expenses WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete expense: %w", err)
		}
		deleted = true
		seq, err = s.bumpSequence(ctx, tx, tripID)
		return err
	})
	if err != nil {
		return "", 0, false, err
	}
	return tripID, seq, deleted, nil
}

const expenseColumns = `id, trip_id, amount_cents, currency, description, category, notes,
	contributor_id, split_mode, status, expense_date, version, created_at, updated_at`

func scanExpense(sc interface{ Scan(...any) error }) (core.Expense, error) {
	var (
		e                      core.Expense
		category, mode, status string
		date, created, updated int64
	)
	err := sc.Scan(&e.ID, &e.TripID, &e.Amount.Cents, &e.Currency, &e.Description, &category, &e.Notes,
		&e.ContributorID, &mode, &status, &date, &e.Version, &created, &updated)
	if err != nil {
		return e, err
	}
	e.Category = core.Category(category)
	e.SplitMode = core.SplitMode(mode)
	e.Status = core.ExpenseStatus(status)
	e.Date = time.UnixMilli(date).UTC()
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

func (s *SQLStore) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	e, err := scanExpense(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+expenseColumns+` FROM expenses WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("%w: %s", core.ErrExpenseNotFound, id)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	shares, err := s.loadShares(ctx, []string{id})
	if err != nil {
		return core.Expense{}, err
	}
	e.Shares = shares[id]
	return e, nil
}

func (s *SQLStore) loadShares(ctx context.Context, ids []string) (map[string][]core.Share, error) {
	out := make(map[string][]core.Share, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT expense_id, user_id, amount_cents, status, paid_at, settled_by
		FROM expense_shares WHERE expense_id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)
		ORDER BY expense_id, position`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("load shares: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			expenseID, status string
			sh                core.Share
			paidAt            sql.NullInt64
		)
		if err := rows.Scan(&expenseID, &sh.UserID, &sh.Amount.Cents, &status, &paidAt, &sh.SettledBy); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		sh.Status = core.ShareStatus(status)
		if paidAt.Valid {
			t := time.UnixMilli(paidAt.Int64).UTC()
			sh.PaidAt = &t
		}
		out[expenseID] = append(out[expenseID], sh)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListExpenses(ctx context.Context, q ListQuery) (Page, error) {
	var (
		where = []string{"trip_id = ?"}
		args  = []any{q.TripID}
	)
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.After != nil {
		ms := q.After.Date.UnixMilli()
		where = append(where, "(expense_date < ? OR (expense_date = ? AND id < ?))")
		args = append(args, ms, ms, q.After.ID)
	}
	limit := q.limit()
	args = append(args, limit+1)

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY expense_date DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return Page{}, fmt.Errorf("list expenses: %w", err)
	}
	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			rows.Close()
			return Page{}, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	// Close before loading shares: SQLite runs on a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("list expenses: %w", err)
	}

	var page Page
	if len(expenses) > limit {
		expenses = expenses[:limit]
		page.Next = CursorAfter(expenses[limit-1])
	}

	ids := make([]string, len(expenses))
	for i, e := range expenses {
		ids[i] = e.ID
	}
	shares, err := s.loadShares(ctx, ids)
	if err != nil {
		return Page{}, err
	}
	for i := range expenses {
		expenses[i].Shares = shares[expenses[i].ID]
	}
	page.Expenses = expenses
	return page, nil
}

func (s *SQLStore) TotalsByCurrency(ctx context.Context, tripID string) ([]core.CurrencyTotal, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT currency, SUM(amount_cents), COUNT(*)
		FROM expenses WHERE trip_id = ? GROUP BY currency ORDER BY currency`), tripID)
	if err != nil {
		return nil, fmt.Errorf("sum expenses: %w", err)
	}
	defer rows.Close()

	totals := []core.CurrencyTotal{}
	for rows.Next() {
		var t core.CurrencyTotal
		if err := rows.Scan(&t.Currency, &t.TotalAmount.Cents, &t.TotalExpenses); err != nil {
			return nil, fmt.Errorf("scan total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (s *SQLStore) TripSequence(ctx context.Context, tripID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT seq FROM trip_sequences WHERE trip_id = ?`), tripID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read trip sequence: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) AppendActivity(ctx context.Context, entries ...Activity) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt := s.rebind(`INSERT INTO ledger_events
			(id, trip_id, expense_id, type, actor, sequence, data, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		for _, a := range entries {
			data := string(a.Data)
			if data == "" {
				data = "{}"
			}
			meta, err := json.Marshal(a.Metadata)
			if err != nil {
				return fmt.Errorf("encode activity metadata: %w", err)
			}
			if _, err := tx.ExecContext(ctx, stmt, a.ID, a.TripID, a.ExpenseID, a.Type, a.Actor,
				a.Sequence, data, string(meta), a.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("insert activity %s: %w", a.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) ListActivity(ctx context.Context, tripID string, limit int) ([]Activity, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, trip_id, expense_id, type, actor, sequence, data, metadata, created_at
		FROM ledger_events WHERE trip_id = ? ORDER BY created_at DESC, sequence DESC LIMIT ?`), tripID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := []Activity{}
	for rows.Next() {
		var (
			a          Activity
			data, meta string
			created    int64
		)
		if err := rows.Scan(&a.ID, &a.TripID, &a.ExpenseID, &a.Type, &a.Actor, &a.Sequence, &data, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Data = json.RawMessage(data)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
