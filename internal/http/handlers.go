package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tripledger/internal/core"
	"tripledger/internal/log"
	"tripledger/internal/notify"
	"tripledger/internal/services"
	"tripledger/internal/storage"
)

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpCreate, err)
		return
	}
	in, err := req.toInput(services.ActorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, log.OpCreate, err)
		return
	}
	e, err := s.deps.Ledger.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, log.OpCreate, err)
		return
	}
	w.Header().Set("Location", "/expenses/"+e.ID)
	w.Header().Set("ETag", etag(e))
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpRead, err)
		return
	}
	w.Header().Set("ETag", etag(e))
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req updateExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}
	patch, err := req.toPatch(r)
	if err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}
	e, err := s.deps.Ledger.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, r, log.OpUpdate, err)
		return
	}
	w.Header().Set("ETag", etag(e))
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteExpense answers 204 whether or not the expense existed, so a
// retried delete is harmless.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Ledger.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSharePaid(w http.ResponseWriter, r *http.Request) {
	var req settleShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, log.OpSettle, err)
		return
	}
	settle, err := req.toSettle(r, chi.URLParam(r, "id"), services.ActorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, log.OpSettle, err)
		return
	}
	e, err := s.deps.Ledger.MarkSharePaid(r.Context(), settle)
	if err != nil {
		writeServiceError(w, r, log.OpSettle, err)
		return
	}
	w.Header().Set("ETag", etag(e))
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Ledger.GetSettlements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListExpenses returns one page of a trip's expenses together with
// the trip sequence read before the page, so clients can apply every later
// event on top of it.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	q := r.URL.Query()

	limit, err := parseLimit(r, "limit", 0, storage.MaxPageSize)
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	after, err := storage.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}

	seq, err := s.deps.Ledger.TripSequence(r.Context(), tripID)
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	page, err := s.deps.Ledger.ListPage(r.Context(), storage.ListQuery{
		TripID: tripID,
		Status: core.ExpenseStatus(q.Get("status")),
		Limit:  limit,
		After:  after,
	})
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}

	resp := listResponse{TripID: tripID, Sequence: seq, Expenses: page.Expenses}
	if resp.Expenses == nil {
		resp.Expenses = []core.Expense{}
	}
	if page.Next != nil {
		resp.NextCursor = page.Next.Encode()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Ledger.GetSummary(r.Context(), chi.URLParam(r, "tripId"), r.URL.Query().Get("currency"))
	if err != nil {
		writeServiceError(w, r, log.OpSummary, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Balances.ComputeBalances(r.Context(), chi.URLParam(r, "tripId"), r.URL.Query().Get("currency"))
	if err != nil {
		writeServiceError(w, r, log.OpBalances, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		http.NotFound(w, r)
		return
	}
	tripID := chi.URLParam(r, "tripId")
	limit, err := parseLimit(r, "limit", defaultActivityLimit, maxActivityLimit)
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	trail, err := s.deps.Activity.Trail(r.Context(), tripID, limit)
	if err != nil {
		writeServiceError(w, r, log.OpList, err)
		return
	}
	if trail == nil {
		trail = []storage.Activity{}
	}
	writeJSON(w, http.StatusOK, activityResponse{TripID: tripID, Activity: trail})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rooms == nil {
		http.NotFound(w, r)
		return
	}
	s.deps.Rooms.Stream(w, r, notify.RoomID(chi.URLParam(r, "tripId")))
}

func etag(e core.Expense) string {
	return `"` + strconv.FormatInt(e.Version, 10) + `"`
}
