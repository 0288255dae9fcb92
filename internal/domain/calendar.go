package domain

import "time"

// IsBusinessDay reports whether t falls on a trading weekday (Mon–Fri).
// This is a pure date computation: exchange holidays are not modelled, a
// holiday refresh simply finds no new data and the completeness fallback
// keeps the previous baseline.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
