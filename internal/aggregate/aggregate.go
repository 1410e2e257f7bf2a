// Package aggregate buckets records into chart-ready series.
package aggregate

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"movimenti/internal/core"
)

// View is the set of series derived from records inside a closed date range.
type View struct {
	Start          time.Time            `json:"start"`
	End            time.Time            `json:"end"`
	CategoryTotals []core.CategoryTotal `json:"category_totals"`
	MonthlySeries  []core.MonthFlow     `json:"monthly_series"`
	MonthlySpend   []core.MonthSpend    `json:"monthly_spend"`
	Included       int                  `json:"included"`
	// Anomalies counts records left out because their stored date was unusable.
	Anomalies int `json:"anomalies"`
}

// DefaultRange is the range shown when none is requested: one month back
// from now, inclusive.
func DefaultRange(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	return now.AddDate(0, -1, 0), now
}

// Compute aggregates the records whose transaction date lies in [start, end].
// An inverted range yields empty series.
func Compute(records []core.Record, start, end time.Time) View {
	v := View{
		Start:          start,
		End:            end,
		CategoryTotals: []core.CategoryTotal{},
		MonthlySeries:  []core.MonthFlow{},
		MonthlySpend:   []core.MonthSpend{},
	}
	if start.After(end) {
		return v
	}

	categories := map[string]decimal.Decimal{}
	flows := map[core.MonthKey]*core.MonthFlow{}
	spend := map[core.MonthKey]decimal.Decimal{}

	for _, r := range records {
		if r.TransactionDate.IsZero() {
			v.Anomalies++
			continue
		}
		if r.TransactionDate.Before(start) || r.TransactionDate.After(end) {
			continue
		}
		v.Included++

		key := core.MonthKeyOf(r.TransactionDate)
		flow, ok := flows[key]
		if !ok {
			flow = &core.MonthFlow{Month: key.String()}
			flows[key] = flow
		}
		if r.IsIncome() {
			flow.Income = flow.Income.Add(r.Amount)
		} else {
			flow.Expenses = flow.Expenses.Add(r.Amount.Abs())
		}

		if r.IsExpense() {
			categories[r.Category] = categories[r.Category].Add(r.Amount.Abs())
			spend[key] = spend[key].Add(r.Amount.Abs())
		}
	}

	for name, total := range categories {
		v.CategoryTotals = append(v.CategoryTotals, core.CategoryTotal{Category: name, Total: total})
	}
	slices.SortFunc(v.CategoryTotals, func(a, b core.CategoryTotal) int {
		return strings.Compare(a.Category, b.Category)
	})

	for _, key := range sortedKeys(flows) {
		v.MonthlySeries = append(v.MonthlySeries, *flows[key])
	}
	for _, key := range sortedKeys(spend) {
		v.MonthlySpend = append(v.MonthlySpend, core.MonthSpend{Month: key.String(), Spending: spend[key]})
	}
	return v
}

func sortedKeys[V any](m map[core.MonthKey]V) []core.MonthKey {
	keys := make([]core.MonthKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b core.MonthKey) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return keys
}

// Category returns the expense total of one category.
func (v View) Category(name string) (decimal.Decimal, bool) {
	for _, c := range v.CategoryTotals {
		if c.Category == name {
			return c.Total, true
		}
	}
	return decimal.Zero, false
}

// Month returns the income and expenses of an "m/yyyy" bucket.
func (v View) Month(key string) (core.MonthFlow, bool) {
	for _, m := range v.MonthlySeries {
		if m.Month == key {
			return m, true
		}
	}
	return core.MonthFlow{}, false
}

// Spend returns the spending of an "m/yyyy" bucket.
func (v View) Spend(key string) (decimal.Decimal, bool) {
	for _, m := range v.MonthlySpend {
		if m.Month == key {
			return m.Spending, true
		}
	}
	return decimal.Zero, false
}
