package services

import (
	"fmt"
	"time"

	"finboard/internal/core"
)

// DuenessChecker decides whether a subscription should be charged again.
// Both times are expected in the deployment's local zone.
type DuenessChecker interface {
	IsDue(lastCharged, now time.Time, startDate core.Date) bool
}

// DailyChecker charges once per calendar day.
type DailyChecker struct{}

func (DailyChecker) IsDue(lastCharged, now time.Time, _ core.Date) bool {
	if lastCharged.IsZero() {
		return true
	}
	return !sameDay(lastCharged, now)
}

// WeeklyChecker charges when seven calendar days have passed.
type WeeklyChecker struct{}

func (WeeklyChecker) IsDue(lastCharged, now time.Time, _ core.Date) bool {
	if lastCharged.IsZero() {
		return true
	}
	return daysBetween(lastCharged, now) >= 7
}

// MonthlyChecker charges once per month, on or after the start date's day.
type MonthlyChecker struct{}

func (MonthlyChecker) IsDue(lastCharged, now time.Time, startDate core.Date) bool {
	if lastCharged.IsZero() {
		return true
	}
	if lastCharged.Year() == now.Year() && lastCharged.Month() == now.Month() {
		return false
	}
	return now.Day() >= clampDay(now.Year(), now.Month(), startDate.Day())
}

// YearlyChecker charges once per year, on or after the start date's month and day.
type YearlyChecker struct{}

func (YearlyChecker) IsDue(lastCharged, now time.Time, startDate core.Date) bool {
	if lastCharged.IsZero() {
		return true
	}
	if lastCharged.Year() == now.Year() {
		return false
	}

	target := time.Month(startDate.Month())
	switch {
	case now.Month() < target:
		return false
	case now.Month() == target:
		return now.Day() >= clampDay(now.Year(), target, startDate.Day())
	default:
		return true
	}
}

// clampDay caps day to the length of the month, so a subscription started
// on the 31st is charged on the last day of shorter months.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysBetween counts calendar days from a to b in their own locations.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

var duenessStrategies = map[core.RepetitionTypes]DuenessChecker{
	core.Daily:   DailyChecker{},
	core.Weekly:  WeeklyChecker{},
	core.Monthly: MonthlyChecker{},
	core.Yearly:  YearlyChecker{},
}

// GetDuenessChecker returns the checker for a repetition type.
func GetDuenessChecker(frequency core.RepetitionTypes) (DuenessChecker, error) {
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown repetition type: %s", frequency)
	}
	return checker, nil
}

// RegisterDuenessChecker adds or replaces the checker for a repetition type.
func RegisterDuenessChecker(frequency core.RepetitionTypes, checker DuenessChecker) {
	duenessStrategies[frequency] = checker
}
