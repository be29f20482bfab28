package daily

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finboard/internal/core"
)

func TestPairs(t *testing.T) {
	const day = "2024-03-10T15:00:00Z"

	tests := []struct {
		name string
		in   []core.Transaction
		want map[int64]int64
	}{
		{
			name: "empty",
			in:   nil,
			want: map[int64]int64{},
		},
		{
			name: "single pair with unrelated income",
			in: []core.Transaction{
				tx(1, core.Expense, 4500, day),
				tx(2, core.Income, 4500, day),
				tx(3, core.Income, 1200, day),
			},
			want: map[int64]int64{1: 2, 2: 1},
		},
		{
			name: "first expense wins",
			in: []core.Transaction{
				tx(10, core.Expense, 2000, day),
				tx(11, core.Expense, 2000, day),
				tx(12, core.Income, 2000, day),
			},
			want: map[int64]int64{10: 12, 12: 10},
		},
		{
			name: "first income wins",
			in: []core.Transaction{
				tx(1, core.Income, 2000, day),
				tx(2, core.Income, 2000, day),
				tx(3, core.Expense, 2000, day),
			},
			want: map[int64]int64{3: 1, 1: 3},
		},
		{
			name: "income before expense still pairs",
			in: []core.Transaction{
				tx(5, core.Income, 999, day),
				tx(6, core.Expense, 999, day),
			},
			want: map[int64]int64{5: 6, 6: 5},
		},
		{
			name: "two pairs of same amount",
			in: []core.Transaction{
				tx(1, core.Expense, 700, day),
				tx(2, core.Expense, 700, day),
				tx(3, core.Income, 700, day),
				tx(4, core.Income, 700, day),
			},
			want: map[int64]int64{1: 3, 3: 1, 2: 4, 4: 2},
		},
		{
			name: "one cent apart does not pair",
			in: []core.Transaction{
				tx(1, core.Expense, 4500, day),
				tx(2, core.Income, 4501, day),
			},
			want: map[int64]int64{},
		},
		{
			name: "same type never pairs",
			in: []core.Transaction{
				tx(1, core.Expense, 100, day),
				tx(2, core.Expense, 100, day),
				tx(3, core.Income, 300, day),
				tx(4, core.Income, 300, day),
			},
			want: map[int64]int64{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Pairs(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPairList(t *testing.T) {
	in := []core.Transaction{
		tx(1, core.Income, 700, "2024-03-10T15:00:00Z"),
		tx(2, core.Expense, 300, "2024-03-10T15:00:00Z"),
		tx(3, core.Expense, 700, "2024-03-10T15:00:00Z"),
		tx(4, core.Income, 300, "2024-03-10T15:00:00Z"),
	}
	list := PairList(in, Pairs(in))
	assert.Equal(t, []MergePair{{ExpenseID: 2, IncomeID: 4}, {ExpenseID: 3, IncomeID: 1}}, list)
	assert.Empty(t, PairList(in, map[int64]int64{}))
}

func TestSamePair(t *testing.T) {
	e := tx(1, core.Expense, 4500, "2024-03-10T23:30:00Z")
	i := tx(2, core.Income, 4500, "2024-03-11T01:00:00Z")
	assert.True(t, SamePair(e, i, Guayaquil))
	assert.False(t, SamePair(e, i, FixedZone(0)), "different UTC days")
	assert.False(t, SamePair(i, e, Guayaquil), "types swapped")

	other := i
	other.Amount = core.Money{Cents: 4400}
	assert.False(t, SamePair(e, other, Guayaquil))

	bad := i
	bad.OccurredAt = "garbage"
	assert.False(t, SamePair(e, bad, Guayaquil))
}

func TestPairsProperties(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		buckets, err := Group(randomTransactions(r, r.Intn(80)), Guayaquil)
		require.NoError(t, err)

		for _, b := range buckets {
			byID := make(map[int64]core.Transaction, len(b.Transactions))
			for _, tr := range b.Transactions {
				byID[tr.ID] = tr
			}

			pairs := Pairs(b.Transactions)
			for a, c := range pairs {
				assert.Equal(t, a, pairs[c], "pairing must be symmetric")
				ta, ok := byID[a]
				require.True(t, ok)
				tc, ok := byID[c]
				require.True(t, ok)
				assert.NotEqual(t, ta.Type, tc.Type)
				assert.Equal(t, ta.Amount.Cents, tc.Amount.Cents)
				assert.NotEqual(t, a, c)
				if ta.Type == core.Expense {
					assert.True(t, SamePair(ta, tc, Guayaquil))
				}
			}
			assert.Len(t, PairList(b.Transactions, pairs), len(pairs)/2)
			assert.Equal(t, pairs, Pairs(b.Transactions), "pairing must be deterministic")
		}
	}
}
