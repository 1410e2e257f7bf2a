package aggregate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movimenti/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func txn(date time.Time, amount, category string) core.Record {
	return core.Record{TransactionDate: date, Amount: decimal.RequireFromString(amount), Category: category}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeScenarioWithoutCategories(t *testing.T) {
	records := []core.Record{
		txn(day(2024, 1, 5), "-45.00", ""),
		txn(day(2024, 1, 20), "1000.00", ""),
	}

	v := Compute(records, day(2024, 1, 1), day(2024, 1, 31))

	require.Len(t, v.CategoryTotals, 1)
	total, ok := v.Category("")
	require.True(t, ok)
	assert.True(t, total.Equal(dec("45")))

	m, ok := v.Month("1/2024")
	require.True(t, ok)
	assert.True(t, m.Income.Equal(dec("1000")))
	assert.True(t, m.Expenses.Equal(dec("45")))
	assert.Equal(t, 2, v.Included)
}

func TestComputeClosedInterval(t *testing.T) {
	start, end := day(2024, 2, 1), day(2024, 2, 29)
	records := []core.Record{
		txn(start, "-1", "a"),
		txn(end, "-2", "a"),
		txn(start.Add(-time.Nanosecond), "-4", "a"),
		txn(end.Add(time.Nanosecond), "-8", "a"),
	}

	v := Compute(records, start, end)
	total, _ := v.Category("a")
	assert.True(t, total.Equal(dec("3")), "got %s", total)
}

func TestComputeCategoryTotals(t *testing.T) {
	records := []core.Record{
		txn(day(2024, 1, 1), "-10", "Food"),
		txn(day(2024, 1, 2), "-5.5", "Food"),
		txn(day(2024, 1, 3), "200", "Food"),
		txn(day(2024, 1, 4), "-30", "Rent"),
		txn(day(2024, 1, 5), "0", "Zero"),
	}

	v := Compute(records, day(2024, 1, 1), day(2024, 12, 31))

	assert.Equal(t, []string{"Food", "Rent"}, []string{v.CategoryTotals[0].Category, v.CategoryTotals[1].Category})
	food, _ := v.Category("Food")
	assert.True(t, food.Equal(dec("15.5")))
	_, ok := v.Category("Zero")
	assert.False(t, ok)
}

func TestComputeMonthlySeriesChronological(t *testing.T) {
	records := []core.Record{
		txn(day(2024, 10, 3), "-1", ""),
		txn(day(2023, 12, 3), "5", ""),
		txn(day(2024, 2, 3), "-2", ""),
		txn(day(2024, 2, 9), "0", ""),
	}

	v := Compute(records, day(2023, 1, 1), day(2024, 12, 31))

	var months []string
	for _, m := range v.MonthlySeries {
		months = append(months, m.Month)
	}
	assert.Equal(t, []string{"12/2023", "2/2024", "10/2024"}, months)

	var spend []string
	for _, m := range v.MonthlySpend {
		spend = append(spend, m.Month)
	}
	assert.Equal(t, []string{"2/2024", "10/2024"}, spend)

	s, _ := v.Spend("2/2024")
	assert.True(t, s.Equal(dec("2")))
}

func TestComputeNetEqualsIncomeMinusExpenses(t *testing.T) {
	records := []core.Record{
		txn(day(2024, 3, 1), "-12.34", "a"),
		txn(day(2024, 3, 2), "100", "b"),
		txn(day(2024, 3, 3), "-0.66", "a"),
		txn(day(2024, 4, 1), "7", "b"),
		txn(day(2024, 4, 2), "-7.5", ""),
	}

	v := Compute(records, day(2024, 1, 1), day(2024, 12, 31))

	net := map[string]decimal.Decimal{}
	for _, r := range records {
		k := core.MonthKeyOf(r.TransactionDate).String()
		net[k] = net[k].Add(r.Amount)
	}
	for _, m := range v.MonthlySeries {
		assert.True(t, m.Income.Sub(m.Expenses).Equal(net[m.Month]), "bucket %s", m.Month)
	}

	// category totals match a direct sum over expenses
	want := map[string]decimal.Decimal{}
	for _, r := range records {
		if r.Amount.IsNegative() {
			want[r.Category] = want[r.Category].Add(r.Amount.Abs())
		}
	}
	for c, w := range want {
		got, ok := v.Category(c)
		require.True(t, ok)
		assert.True(t, got.Equal(w), "category %q", c)
	}
}

func TestComputeEmptyCases(t *testing.T) {
	records := []core.Record{txn(day(2024, 1, 5), "-1", "x")}

	inverted := Compute(records, day(2024, 2, 1), day(2024, 1, 1))
	assert.Empty(t, inverted.CategoryTotals)
	assert.Empty(t, inverted.MonthlySeries)
	assert.Empty(t, inverted.MonthlySpend)

	none := Compute(nil, day(2024, 1, 1), day(2024, 2, 1))
	assert.NotNil(t, none.MonthlySeries)
	assert.Empty(t, none.MonthlySeries)
}

func TestComputeCountsAnomalies(t *testing.T) {
	records := []core.Record{
		{Amount: dec("-3")},
		txn(day(2024, 1, 5), "-1", "x"),
	}

	v := Compute(records, time.Time{}, day(2024, 12, 31))
	assert.Equal(t, 1, v.Anomalies)
	assert.Equal(t, 1, v.Included)
}

func TestDefaultRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	start, end := DefaultRange(now)
	assert.Equal(t, time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC), start)
	assert.Equal(t, now, end)
}
