package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RequestError is a client mistake in the request line or body. It maps to 400.
type RequestError struct {
	Param string
	Err   error
}

func (e *RequestError) Error() string {
	if e.Param == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Param, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badParam(param string, err error) error {
	return &RequestError{Param: param, Err: err}
}

// ParseFilter reads the month and dimension filters of a month query.
// Missing year or month default to the current month in zone; values that
// are present must be valid.
func ParseFilter(query url.Values, zone daily.Zone, now time.Time) (core.TransactionFilter, error) {
	y, m, _ := zone.Today(now)
	f := core.TransactionFilter{Year: y, Month: int(m)}

	var err error
	if f.Year, err = intParam(query, "year", f.Year); err != nil {
		return core.TransactionFilter{}, err
	}
	if f.Month, err = intParam(query, "month", f.Month); err != nil {
		return core.TransactionFilter{}, err
	}
	if err := f.Validate(); err != nil {
		return core.TransactionFilter{}, badParam("month", err)
	}

	for param, dst := range map[string]**int64{
		"bank_id":     &f.BankID,
		"card_id":     &f.CardID,
		"budget_id":   &f.BudgetID,
		"category_id": &f.CategoryID,
	} {
		if *dst, err = optionalID(query, param); err != nil {
			return core.TransactionFilter{}, err
		}
	}
	return f, nil
}

// filterKey renders a filter as a stable cache key part.
func filterKey(f core.TransactionFilter) string {
	id := func(p *int64) string {
		if p == nil {
			return "-"
		}
		return strconv.FormatInt(*p, 10)
	}
	return fmt.Sprintf("%04d-%02d/%s/%s/%s/%s", f.Year, f.Month, id(f.BankID), id(f.CardID), id(f.BudgetID), id(f.CategoryID))
}

func intParam(query url.Values, name string, def int) (int, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badParam(name, fmt.Errorf("not a number: %q", v))
	}
	return n, nil
}

func optionalID(query url.Values, name string) (*int64, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, badParam(name, fmt.Errorf("invalid id %q", v))
	}
	return &id, nil
}

// pathID reads a positive {id} path segment.
func pathID(r *http.Request) (int64, error) {
	v := r.PathValue("id")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, badParam("id", fmt.Errorf("invalid id %q", v))
	}
	return id, nil
}

// decodeJSON decodes a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badParam("body", errors.New("empty request body"))
		}
		return badParam("body", err)
	}
	if dec.More() {
		return badParam("body", errors.New("unexpected data after JSON object"))
	}
	return nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// transactionRequest is the writable part of a transaction.
type transactionRequest struct {
	Type        core.TransactionType `json:"type"`
	Amount      core.Money           `json:"amount"`
	OccurredAt  string               `json:"occurred_at"`
	Description string               `json:"description"`
	BankID      *int64               `json:"bank_id"`
	CardID      *int64               `json:"card_id"`
	BudgetID    *int64               `json:"budget_id"`
	CategoryID  *int64               `json:"category_id"`
}

func (req transactionRequest) transaction(id int64) (core.Transaction, error) {
	tx := core.Transaction{
		ID:          id,
		Type:        req.Type,
		Amount:      req.Amount,
		OccurredAt:  strings.TrimSpace(req.OccurredAt),
		Description: sanitizeInput(req.Description),
		BankID:      req.BankID,
		CardID:      req.CardID,
		BudgetID:    req.BudgetID,
		CategoryID:  req.CategoryID,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, &ValidationError{Err: err}
	}
	at, _ := tx.Instant()
	tx.OccurredAt = core.FormatInstant(at)
	return tx, nil
}

// mergeRequest asks to delete a same-day expense and its reimbursement.
type mergeRequest struct {
	ExpenseID int64 `json:"expense_id"`
	IncomeID  int64 `json:"income_id"`
	Confirm   bool  `json:"confirm"`
}

func (req mergeRequest) pair() (daily.MergePair, error) {
	if req.ExpenseID <= 0 {
		return daily.MergePair{}, badParam("expense_id", errors.New("required"))
	}
	if req.IncomeID <= 0 {
		return daily.MergePair{}, badParam("income_id", errors.New("required"))
	}
	return daily.MergePair{ExpenseID: req.ExpenseID, IncomeID: req.IncomeID}, nil
}

// ValidationError is a well formed request carrying invalid values. It maps to 422.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
