// Package core holds the domain model shared by every component.
//
// This file contains the Money type and amount parsing.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount. Transactions only carry positive amounts.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MustMoney parses s and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMoney parses a positive decimal amount.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Signs are
// rejected, as are zero and malformed values.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, &ValidationError{Field: "amount", Reason: "required"}
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &ValidationError{Field: "amount", Reason: "not a number"}
	}
	m := Money{Decimal: d}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func (m Money) Validate() error {
	if !m.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	return nil
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{Decimal: m.Decimal.Add(o.Decimal)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{Decimal: m.Decimal.Sub(o.Decimal)}
}

// Equal compares amounts by value, ignoring representation.
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}
