package google

import (
	"fmt"

	"bilancio/internal/core"
)

// row is one sheet line: A date, B kind, C label, D amount, E recurring
// marker, F key.
type row struct {
	Date      string
	Kind      string
	Label     string
	Amount    string
	Recurring bool
	Key       string
}

func (r row) values() []any {
	recurring := ""
	if r.Recurring {
		recurring = "R"
	}
	return []any{r.Date, r.Kind, r.Label, r.Amount, recurring, r.Key}
}

// movementRows flattens m into sheet rows, income first. Items without an
// idempotency key are keyed by movement id, kind and position, which is
// stable because items are only ever appended.
func movementRows(m core.Movement) []row {
	rows := make([]row, 0, len(m.Income)+len(m.Expenses))
	add := func(kind string, items []core.MovementItem) {
		for i, it := range items {
			key := it.IdempotencyKey
			if key == "" {
				key = fmt.Sprintf("m%d:%s:%d", m.ID, kind, i)
			}
			rows = append(rows, row{
				Date:      m.Date.String(),
				Kind:      kind,
				Label:     it.Label,
				Amount:    core.FormatAmount(it.Amount),
				Recurring: it.IsRecurring,
				Key:       key,
			})
		}
	}
	add("income", m.Income)
	add("expense", m.Expenses)
	return rows
}
