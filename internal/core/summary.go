package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryTotal is the absolute expense total of one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// MonthKey identifies a calendar month bucket.
type MonthKey struct {
	Year  int
	Month time.Month
}

// MonthKeyOf returns the UTC month bucket of t.
func MonthKeyOf(t time.Time) MonthKey {
	u := t.UTC()
	return MonthKey{Year: u.Year(), Month: u.Month()}
}

// String renders the key as "m/yyyy" without zero padding.
func (k MonthKey) String() string {
	return fmt.Sprintf("%d/%d", int(k.Month), k.Year)
}

// Before orders keys chronologically.
func (k MonthKey) Before(o MonthKey) bool {
	if k.Year != o.Year {
		return k.Year < o.Year
	}
	return k.Month < o.Month
}

// MonthFlow is income and expenses of one month. Expenses is a magnitude.
type MonthFlow struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
}

// MonthSpend is the spending magnitude of one month.
type MonthSpend struct {
	Month    string          `json:"month"`
	Spending decimal.Decimal `json:"spending"`
}
