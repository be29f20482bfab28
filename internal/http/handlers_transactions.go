package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"finboard/internal/cache"
	"finboard/internal/log"
	"finboard/internal/services"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query(), s.zone, s.now())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	s.cached(w, r, cache.Key("transactions", filterKey(f)), func(ctx context.Context) (any, error) {
		return s.deps.Transactions.ListTransactions(ctx, f)
	})
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query(), s.zone, s.now())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	s.cached(w, r, cache.Key("days", filterKey(f)), func(ctx context.Context) (any, error) {
		return s.deps.Days.Days(ctx, f)
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	tx, err := s.deps.Transactions.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	NewJSONResponse().Body(tx).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	tx, err := req.transaction(0)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}

	saved, err := s.deps.Transactions.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	s.invalidate(r.Context())
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/transactions/"+strconv.FormatInt(saved.ID, 10)).
		Body(saved).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	tx, err := req.transaction(id)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}

	saved, err := s.deps.Transactions.UpdateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	s.invalidate(r.Context())
	NewJSONResponse().Body(saved).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.deps.Transactions.DeleteTransaction(r.Context(), id); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	s.invalidate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// mergeResponse reports which ids the merge removed.
type mergeResponse struct {
	Removed   []int64 `json:"removed"`
	Remaining int64   `json:"remaining,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// handleMerge deletes a confirmed pair. A partial merge still changed data,
// so the cache is cleared for every outcome except refusals.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req mergeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpMerge, err)
		return
	}
	pair, err := req.pair()
	if err != nil {
		writeError(w, r, log.OpMerge, err)
		return
	}

	logger := log.FromContext(ctx).WithComponent(log.ComponentMerge)
	err = s.deps.Merger.Merge(ctx, pair, req.Confirm)

	var partial *services.PartialMergeError
	switch {
	case err == nil:
		s.invalidate(ctx)
		logger.Fields(ctx, slog.LevelInfo, "Pair merged",
			log.NewFields().WithOperation(log.OpMerge).WithPair(pair.ExpenseID, pair.IncomeID))
		NewJSONResponse().Body(mergeResponse{Removed: []int64{pair.ExpenseID, pair.IncomeID}}).Write(w)
	case errors.As(err, &partial):
		s.invalidate(ctx)
		logger.Fields(ctx, slog.LevelWarn, "Pair partially merged",
			log.NewFields().WithOperation(log.OpMerge).WithPair(pair.ExpenseID, pair.IncomeID).WithError(err))
		NewJSONResponse().
			Status(http.StatusMultiStatus).
			Body(mergeResponse{Removed: []int64{partial.Removed}, Remaining: partial.Remaining, Error: partial.Err.Error()}).
			Write(w)
	default:
		writeError(w, r, log.OpMerge, err)
	}
}
