// Package memory keeps exported rows in process, for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/sheets"
)

var _ sheets.TransactionExporter = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	zone daily.Zone
	rows map[int64]sheets.Row
}

func New(zone daily.Zone) *Store {
	return &Store{zone: zone, rows: make(map[int64]sheets.Row)}
}

// Export stores the row and returns a synthetic row reference.
func (s *Store) Export(_ context.Context, tx core.Transaction) (string, error) {
	row, err := sheets.NewRow(tx, s.zone)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
	return fmt.Sprintf("mem:%d", row.ID), nil
}

func (s *Store) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// Rows returns the exported rows, newest day first.
func (s *Store) Rows() []sheets.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sheets.Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day > out[j].Day
		}
		return out[i].ID > out[j].ID
	})
	return out
}
