// Package extract turns receipts and bank notification emails into
// transaction drafts with a generative model.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finboard/internal/core"
	"finboard/internal/daily"
)

var (
	ErrEmptyInput      = errors.New("nothing to extract from")
	ErrInputTooLarge   = errors.New("input too large")
	ErrUnsupportedMIME = errors.New("unsupported image type")
	ErrNoDrafts        = errors.New("no transactions found")
)

const (
	maxImageBytes = 10 << 20
	maxEmailChars = 20000
)

var supportedImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// Draft is a transaction proposed by the model. It is never stored
// without the user reviewing it.
type Draft struct {
	Type         core.TransactionType `json:"type"`
	Amount       core.Money           `json:"amount"`
	Description  string               `json:"description"`
	OccurredAt   string               `json:"occurred_at"`
	CategoryHint string               `json:"category_hint,omitempty"`
}

// Transaction converts the draft for creation.
func (d Draft) Transaction() core.Transaction {
	return core.Transaction{
		Type:        d.Type,
		Amount:      d.Amount,
		OccurredAt:  d.OccurredAt,
		Description: d.Description,
	}
}

// Extractor reads drafts out of unstructured input.
type Extractor interface {
	FromImage(ctx context.Context, data []byte, mimeType string) ([]Draft, error)
	FromEmail(ctx context.Context, text string) ([]Draft, error)
}

func checkImage(data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if len(data) > maxImageBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInputTooLarge, len(data), maxImageBytes)
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if !supportedImages[mimeType] {
		return fmt.Errorf("%w: %q", ErrUnsupportedMIME, mimeType)
	}
	return nil
}

func checkEmail(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if len(text) > maxEmailChars {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInputTooLarge, len(text), maxEmailChars)
	}
	return nil
}

// modelDraft is the shape the model is asked to return.
type modelDraft struct {
	Type        string          `json:"type"`
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
	Date        string          `json:"date"`
	Time        string          `json:"time"`
	Category    string          `json:"category"`
}

// toDraft validates a model draft and places its local date and time in
// zone. A missing date falls back to now.
func (m modelDraft) toDraft(zone daily.Zone, now time.Time) (Draft, error) {
	var amount core.Money
	if err := amount.UnmarshalJSON(m.Amount); err != nil {
		return Draft{}, fmt.Errorf("amount %s: %w", m.Amount, err)
	}
	d := Draft{
		Type:         core.TransactionType(strings.ToLower(strings.TrimSpace(m.Type))),
		Amount:       amount,
		Description:  strings.TrimSpace(m.Description),
		CategoryHint: strings.TrimSpace(m.Category),
	}

	at := now
	if date := strings.TrimSpace(m.Date); date != "" {
		clock := strings.TrimSpace(m.Time)
		if clock == "" {
			clock = "12:00"
		}
		local, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, zone.Location())
		if err != nil {
			return Draft{}, fmt.Errorf("%w: %q %q", core.ErrInvalidTimestamp, m.Date, m.Time)
		}
		at = local
	}
	d.OccurredAt = core.FormatInstant(at)

	if len(d.Description) > 200 {
		d.Description = d.Description[:200]
	}
	if err := d.Transaction().Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}
