package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"finboard/internal/core"
)

// TransactionEvent announces a transaction write. Deleted events carry
// only the id.
type TransactionEvent struct {
	EventID       string            `json:"event_id"`
	Type          string            `json:"type"`
	TransactionID int64             `json:"transaction_id"`
	Transaction   *core.Transaction `json:"transaction,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewTransactionEvent creates an event with a fresh id.
func NewTransactionEvent(eventType string, tx core.Transaction) *TransactionEvent {
	ev := &TransactionEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		TransactionID: tx.ID,
		Timestamp:     time.Now().UTC(),
	}
	if tx.Type != "" {
		ev.Transaction = &tx
	}
	return ev
}

// ToJSON converts the event to JSON bytes
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes an event and checks the fields every
// consumer relies on.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" {
		return nil, errors.New("event type is required")
	}
	if ev.TransactionID <= 0 {
		return nil, errors.New("transaction id is required")
	}
	return &ev, nil
}
