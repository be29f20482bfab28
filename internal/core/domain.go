package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Monthly RepetitionTypes = "monthly"
	Yearly  RepetitionTypes = "yearly"
	Weekly  RepetitionTypes = "weekly"
	Daily   RepetitionTypes = "daily"
)

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

// InstantLayout is the canonical UTC layout transactions are persisted with.
const InstantLayout = "2006-01-02T15:04:05Z"

type (
	RepetitionTypes string

	TransactionType string

	Date struct {
		time.Time
	}

	Bank struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	Card struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		BankID   *int64 `json:"bank_id,omitempty"`
		LastFour string `json:"last_four,omitempty"`
	}

	Budget struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Amount Money  `json:"amount"` // monthly allowance
	}

	Category struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Color string `json:"color,omitempty"`
	}

	// Transaction is a single money movement. Amount is always a magnitude,
	// the direction is carried by Type. OccurredAt keeps the ISO-8601 UTC
	// string as received from the data source; use Instant to parse it.
	Transaction struct {
		ID          int64           `json:"id"`
		Type        TransactionType `json:"type"`
		Amount      Money           `json:"amount"`
		OccurredAt  string          `json:"occurred_at"`
		Description string          `json:"description"`

		BankID     *int64 `json:"bank_id,omitempty"`
		CardID     *int64 `json:"card_id,omitempty"`
		BudgetID   *int64 `json:"budget_id,omitempty"`
		CategoryID *int64 `json:"category_id,omitempty"`

		// Relations resolved by the data source, may be nil.
		Bank     *Bank     `json:"bank,omitempty"`
		Card     *Card     `json:"card,omitempty"`
		Budget   *Budget   `json:"budget,omitempty"`
		Category *Category `json:"category,omitempty"`
	}

	Subscription struct {
		ID          int64           `json:"id"`
		Name        string          `json:"name"`
		Amount      Money           `json:"amount"`
		Every       RepetitionTypes `json:"every"`
		StartDate   Date            `json:"start_date"`
		EndDate     Date            `json:"end_date"`
		Match       string          `json:"match,omitempty"` // description substring, defaults to Name
		CategoryID  *int64          `json:"category_id,omitempty"`
		CardID      *int64          `json:"card_id,omitempty"`
		LastCharged string          `json:"last_charged_at,omitempty"`
	}

	// TransactionFilter scopes a transaction query to one local calendar month
	// and optional dimensions.
	TransactionFilter struct {
		Year       int
		Month      int
		BankID     *int64
		CardID     *int64
		BudgetID   *int64
		CategoryID *int64
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyName        = errors.New("empty name")
)

func (t TransactionType) IsValid() bool {
	return t == Expense || t == Income
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	// Check basic ranges
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// IsEmpty returns true if the date is zero (for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// ParseInstant parses an ISO-8601 timestamp. RFC 3339 values keep their
// offset; values without an offset are read as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// FormatInstant renders t in the canonical storage layout.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// Instant parses OccurredAt.
func (t Transaction) Instant() (time.Time, error) {
	return ParseInstant(t.OccurredAt)
}

func (t Transaction) Validate() error {
	if !t.Type.IsValid() {
		return ErrInvalidType
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if _, err := t.Instant(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}

func (b Bank) Validate() error {
	return validateName(b.Name)
}

func (c Card) Validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	if c.LastFour != "" && len(c.LastFour) != 4 {
		return errors.New("last four digits must have length 4")
	}
	return nil
}

func (b Budget) Validate() error {
	if err := validateName(b.Name); err != nil {
		return err
	}
	return b.Amount.Validate()
}

func (c Category) Validate() error {
	return validateName(c.Name)
}

func (s Subscription) Validate() error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	if err := s.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}

	// Validate end date if provided
	if !s.EndDate.IsZero() {
		if err := s.EndDate.Validate(); err != nil {
			return errors.New("invalid end date: " + err.Error())
		}
		if s.EndDate.Before(s.StartDate.Time) {
			return errors.New("end date must be after start date")
		}
	}

	switch s.Every {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return errors.New("invalid repetition type")
	}

	return s.Amount.Validate()
}

// ActiveOn reports whether the subscription runs on the given calendar day.
func (s Subscription) ActiveOn(day Date) bool {
	if day.Before(s.StartDate.Time) {
		return false
	}
	return s.EndDate.IsZero() || !day.After(s.EndDate.Time)
}

// MatchText is the description fragment that identifies the subscription's charges.
func (s Subscription) MatchText() string {
	if m := strings.TrimSpace(s.Match); m != "" {
		return m
	}
	return strings.TrimSpace(s.Name)
}

func (f TransactionFilter) Validate() error {
	if f.Month < 1 || f.Month > 12 {
		return ErrInvalidMonth
	}
	if f.Year < 1970 || f.Year > 9999 {
		return fmt.Errorf("invalid year %d", f.Year)
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	return nil
}
