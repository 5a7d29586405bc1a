package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tokenjar/internal/core"
	"tokenjar/internal/services"
)

// userID reads the authenticated user from the X-User-ID header. An edge
// proxy is expected to have verified the identity already.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP status codes. Anything not
// recognized is a 500 with a generic body; details stay in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPercentage),
		errors.Is(err, core.ErrInvalidDenomination),
		errors.Is(err, core.ErrTokenSpent),
		errors.Is(err, core.ErrOverAllocated),
		errors.Is(err, services.ErrBadDayBoundary):
		status = http.StatusUnprocessableEntity
	default:
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.api.GetState(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type spendTokenRequest struct {
	CategoryID string `json:"category_id"`
	TokenID    string `json:"token_id"`
}

func (s *Server) handleSpendToken(w http.ResponseWriter, r *http.Request) {
	var req spendTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	txn, err := s.api.SpendToken(r.Context(), userID(r), req.CategoryID, req.TokenID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.spentCache.InvalidatePrefix(userID(r) + "|")
	writeJSON(w, http.StatusCreated, txn)
}

type spendCustomRequest struct {
	Amount      string `json:"amount"`
	CategoryID  string `json:"category_id"`
	Description string `json:"description"`
}

func (s *Server) handleSpendCustom(w http.ResponseWriter, r *http.Request) {
	var req spendCustomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cents, err := core.ParseDecimalToCents(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, r, err)
		return
	}
	txn, err := s.api.SpendCustom(r.Context(), userID(r), cents, req.CategoryID, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.spentCache.InvalidatePrefix(userID(r) + "|")
	writeJSON(w, http.StatusCreated, txn)
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	result, err := s.api.Rollover(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type allocationRequest struct {
	Modules []core.Module `json:"modules"`
}

func (s *Server) handleSaveAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.api.SaveAllocation(r.Context(), userID(r), req.Modules)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type spentTodayResponse struct {
	SpentCents int64  `json:"spent_cents"`
	Spent      string `json:"spent"`
}

func (s *Server) handleSpentToday(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, r, core.ErrUnauthenticated)
		return
	}

	tz := strings.TrimSpace(r.URL.Query().Get("tz"))
	if tz == "" {
		tz = s.defaultTimezone
	}
	hour := s.defaultHour
	if v := strings.TrimSpace(r.URL.Query().Get("rollover_hour")); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, services.ErrBadDayBoundary)
			return
		}
		hour = h
	}

	key := uid + "|" + tz + "|" + strconv.Itoa(hour)
	if cents, ok := s.spentCache.Get(key); ok {
		writeJSON(w, http.StatusOK, spentTodayResponse{SpentCents: cents, Spent: core.FormatCents(cents)})
		return
	}

	cents, err := s.api.SpentToday(r.Context(), uid, tz, hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.spentCache.Set(key, cents)
	writeJSON(w, http.StatusOK, spentTodayResponse{SpentCents: cents, Spent: core.FormatCents(cents)})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	txns, err := s.api.ListTransactions(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.api.DeleteTransaction(r.Context(), userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.spentCache.InvalidatePrefix(userID(r) + "|")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	state, err := s.api.ResetAll(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	state, err := s.api.RestoreInitial(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type setFundRequest struct {
	FundCents int64 `json:"fund_cents"`
}

func (s *Server) handleSetFund(w http.ResponseWriter, r *http.Request) {
	var req setFundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := s.api.SetFund(r.Context(), userID(r), req.FundCents)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
