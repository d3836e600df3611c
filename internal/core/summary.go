package core

import (
	"sort"
	"time"
)

const (
	PeriodAll    PeriodKind = "all"
	PeriodToday  PeriodKind = "today"
	PeriodWeek   PeriodKind = "week"
	PeriodMonth  PeriodKind = "month"
	PeriodYear   PeriodKind = "year"
	PeriodCustom PeriodKind = "custom"
)

type (
	PeriodKind string

	// Period selects transactions by date. Start and End are only read for
	// PeriodCustom and are both inclusive; a custom period missing either
	// bound matches everything.
	Period struct {
		Kind  PeriodKind
		Start Date
		End   Date
	}

	// CategoryAmount represents an amount aggregated by category name.
	CategoryAmount struct {
		Name   string `json:"name"`
		Amount Money  `json:"amount"`
	}

	// DateGroup holds one viewer's transactions for a calendar date.
	DateGroup struct {
		Date         Date              `json:"date"`
		Transactions []TransactionView `json:"transactions"`
	}

	// Summary totals a set of transactions. Transfers move money between
	// accounts and count toward neither side.
	Summary struct {
		Income  Money `json:"income"`
		Expense Money `json:"expense"`
		Balance Money `json:"balance"`
		Count   int   `json:"count"`
	}
)

func (k PeriodKind) Valid() bool {
	switch k {
	case PeriodAll, PeriodToday, PeriodWeek, PeriodMonth, PeriodYear, PeriodCustom:
		return true
	}
	return false
}

// MonthPeriod covers one calendar month.
func MonthPeriod(year, month int) Period {
	return Period{Kind: PeriodCustom, Start: NewDate(year, month, 1), End: NewDate(year, month+1, 0)}
}

// YearPeriod covers one calendar year.
func YearPeriod(year int) Period {
	return Period{Kind: PeriodCustom, Start: NewDate(year, 1, 1), End: NewDate(year, 12, 31)}
}

// Bounds resolves the inclusive date range of p relative to now. ok is false
// when the period is unbounded.
func (p Period) Bounds(now time.Time) (start, end Date, ok bool) {
	today := DateOf(now)
	switch p.Kind {
	case PeriodToday:
		return today, today, true
	case PeriodWeek:
		// weeks start on Monday
		offset := (int(today.Weekday()) + 6) % 7
		start = today.AddDays(-offset)
		return start, start.AddDays(6), true
	case PeriodMonth:
		m := MonthPeriod(today.Year(), int(today.Month()))
		return m.Start, m.End, true
	case PeriodYear:
		y := YearPeriod(today.Year())
		return y.Start, y.End, true
	case PeriodCustom:
		if p.Start.IsZero() || p.End.IsZero() {
			return Date{}, Date{}, false
		}
		return p.Start, p.End, true
	default:
		return Date{}, Date{}, false
	}
}

// Contains reports whether d falls inside p.
func (p Period) Contains(d Date, now time.Time) bool {
	start, end, ok := p.Bounds(now)
	if !ok {
		return true
	}
	return !d.Before(start) && !d.After(end)
}

// FilterByPeriod keeps the transactions dated inside p, preserving order.
func FilterByPeriod(txs []Transaction, p Period, now time.Time) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if p.Contains(t.Date, now) {
			out = append(out, t)
		}
	}
	return out
}

// FilterByType keeps transactions of type typ. An empty type keeps all.
func FilterByType(txs []Transaction, typ TransactionType) []Transaction {
	if typ == "" {
		return txs
	}
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Type == typ {
			out = append(out, t)
		}
	}
	return out
}

// GroupByDate buckets transactions by date. Groups keep the order in which
// their first transaction appears, so a date-descending snapshot yields
// date-descending groups.
func GroupByDate(txs []TransactionView) []DateGroup {
	var groups []DateGroup
	index := map[string]int{}
	for _, t := range txs {
		key := t.Date.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DateGroup{Date: t.Date})
		}
		groups[i].Transactions = append(groups[i].Transactions, t)
	}
	return groups
}

// CategoryTotals sums amounts per category, largest first.
func CategoryTotals(txs []Transaction) []CategoryAmount {
	sums := map[string]Money{}
	var order []string
	for _, t := range txs {
		cur, ok := sums[t.Category]
		if !ok {
			order = append(order, t.Category)
		}
		sums[t.Category] = cur.Add(t.Amount)
	}
	out := make([]CategoryAmount, 0, len(order))
	for _, name := range order {
		out = append(out, CategoryAmount{Name: name, Amount: sums[name]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Amount.GreaterThan(out[j].Amount.Decimal)
	})
	return out
}

// Summarize totals income and expense and derives the balance.
func Summarize(txs []Transaction) Summary {
	var s Summary
	for _, t := range txs {
		switch t.Type {
		case Income:
			s.Income = s.Income.Add(t.Amount)
		case Expense:
			s.Expense = s.Expense.Add(t.Amount)
		}
	}
	s.Balance = s.Income.Sub(s.Expense)
	s.Count = len(txs)
	return s
}
