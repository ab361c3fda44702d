package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"tripledger/internal/core"
	"tripledger/internal/log"
	"tripledger/internal/services"
	"tripledger/internal/storage"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	TripID  string `json:"tripId,omitempty"`
}

type listResponse struct {
	TripID     string         `json:"tripId"`
	Sequence   int64          `json:"sequence"`
	Expenses   []core.Expense `json:"expenses"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type activityResponse struct {
	TripID   string             `json:"tripId"`
	Activity []storage.Activity `json:"activity"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: kind}})
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	if errors.Is(err, errMalformedBody) {
		return http.StatusBadRequest, "bad_request"
	}
	kind := services.ErrorKind(err)
	switch kind {
	case "validation":
		return http.StatusUnprocessableEntity, kind
	case "membership":
		return http.StatusForbidden, kind
	case "not_found":
		return http.StatusNotFound, kind
	case "conflict":
		return http.StatusConflict, kind
	}
	return http.StatusInternalServerError, "internal"
}

// writeServiceError answers with the status matching err. Internal errors
// are logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, kind := statusFor(err)
	if status == http.StatusInternalServerError {
		ctx := r.Context()
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err,
			log.ComponentHTTP, op, kind, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent()))
		writeError(w, status, kind, "internal error")
		return
	}

	detail := errorDetail{Message: err.Error(), Type: kind}
	var me *core.MembershipError
	if errors.As(err, &me) {
		detail.UserID, detail.TripID = me.UserID, me.TripID
	}
	writeJSON(w, status, errorBody{Error: detail})
}
