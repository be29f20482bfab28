package daily

import (
	"errors"
	"fmt"
	"sort"

	"finboard/internal/core"
)

// ErrMalformedTimestamp is matched by every MalformedTimestampError.
var ErrMalformedTimestamp = errors.New("malformed transaction timestamp")

// MalformedTimestampError reports the transaction whose OccurredAt could not
// be parsed.
type MalformedTimestampError struct {
	ID    int64
	Value string
}

func (e *MalformedTimestampError) Error() string {
	return fmt.Sprintf("transaction %d: malformed timestamp %q", e.ID, e.Value)
}

func (e *MalformedTimestampError) Is(target error) bool {
	return target == ErrMalformedTimestamp
}

// Bucket holds the transactions that fall on one local calendar day.
type Bucket struct {
	Day          string             `json:"day"`
	Transactions []core.Transaction `json:"transactions"`
}

// Group buckets txs by local calendar day in zone. Buckets are ordered by day,
// most recent first, and keep the input order inside each bucket. The input
// slice is not modified. A transaction with an unparsable OccurredAt aborts
// the whole grouping with a *MalformedTimestampError.
func Group(txs []core.Transaction, zone Zone) ([]Bucket, error) {
	buckets := make([]Bucket, 0)
	index := make(map[string]int)

	for _, tx := range txs {
		t, err := tx.Instant()
		if err != nil {
			return nil, &MalformedTimestampError{ID: tx.ID, Value: tx.OccurredAt}
		}
		day := zone.LocalDay(t)
		i, ok := index[day]
		if !ok {
			i = len(buckets)
			index[day] = i
			buckets = append(buckets, Bucket{Day: day})
		}
		buckets[i].Transactions = append(buckets[i].Transactions, tx)
	}

	// yyyy-MM-dd sorts lexicographically in calendar order
	sort.SliceStable(buckets, func(a, b int) bool {
		return buckets[a].Day > buckets[b].Day
	})
	return buckets, nil
}

// Flatten concatenates the buckets back into a single slice.
func Flatten(buckets []Bucket) []core.Transaction {
	n := 0
	for _, b := range buckets {
		n += len(b.Transactions)
	}
	out := make([]core.Transaction, 0, n)
	for _, b := range buckets {
		out = append(out, b.Transactions...)
	}
	return out
}
