package http

import (
	"context"
	"net/http"

	"finboard/internal/cache"
	"finboard/internal/log"
)

// validatable is any reference entity that can check itself.
type validatable interface {
	Validate() error
}

func listHandler[T any](list func(context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		if err != nil {
			writeError(w, r, log.OpList, err)
			return
		}
		if items == nil {
			items = []T{}
		}
		NewJSONResponse().Body(items).Write(w)
	}
}

func createHandler[T validatable](s *Server, name string, create func(context.Context, T) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item T
		if err := decodeJSON(w, r, &item); err != nil {
			writeError(w, r, log.OpCreate, err)
			return
		}
		if err := item.Validate(); err != nil {
			writeError(w, r, log.OpCreate, &ValidationError{Err: err})
			return
		}
		saved, err := create(r.Context(), item)
		if err != nil {
			writeError(w, r, log.OpCreate, err)
			return
		}
		s.invalidate(r.Context())
		log.FromContext(r.Context()).InfoContext(r.Context(), "Created", "resource", name)
		NewJSONResponse().Status(http.StatusCreated).Body(saved).Write(w)
	}
}

func deleteHandler(s *Server, name string, del func(context.Context, int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, r, log.OpDelete, err)
			return
		}
		if err := del(r.Context(), id); err != nil {
			writeError(w, r, log.OpDelete, err)
			return
		}
		s.invalidate(r.Context())
		log.FromContext(r.Context()).InfoContext(r.Context(), "Deleted", "resource", name, "id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFilter(r.URL.Query(), s.zone, s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	s.cached(w, r, cache.Key("summary", filterKey(f)), func(ctx context.Context) (any, error) {
		return s.deps.Summary.MonthOverview(ctx, f.Year, f.Month)
	})
}

func (s *Server) handleBudgetUsage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	f, err := ParseFilter(r.URL.Query(), s.zone, s.now())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	f.BudgetID = &id
	s.cached(w, r, cache.Key("usage", filterKey(f)), func(ctx context.Context) (any, error) {
		return s.deps.Summary.BudgetUsage(ctx, id, f.Year, f.Month)
	})
}
