package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// Cursor moves accepted by Cursor.Move.
const (
	MovePrevMonth = "prev-month"
	MovePrevDay   = "prev-day"
	MoveNextDay   = "next-day"
	MoveNextMonth = "next-month"
	MoveToday     = "today"
)

var ErrUnknownMove = errors.New("unknown cursor move")

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DayRange is the half-open interval [Start, End) covering one calendar day.
type DayRange struct {
	Start time.Time
	End   time.Time
}

// RangeForDay returns the range from day's midnight to the next day's midnight.
// The end is computed on the calendar, so 23 and 25 hour days are handled.
func RangeForDay(day time.Time, loc *time.Location) DayRange {
	start := StartOfDay(day, loc)
	return DayRange{Start: start, End: start.AddDate(0, 0, 1)}
}

// Contains reports whether Start <= t < End.
func (r DayRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Key returns the day formatted with DayLayout.
func (r DayRange) Key() string {
	return r.Start.Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD string as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return t, nil
}

// ParseMonth parses a YYYY-MM string as the first day of that month in loc.
func ParseMonth(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(MonthLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return t, nil
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// AddMonths moves t by n calendar months. The day of month is clamped to the
// length of the target month, so Jan 31 plus one month is the last day of Feb.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Cursor is the selected day together with today. Day never moves past Today.
type Cursor struct {
	Day   time.Time
	Today time.Time
}

// NewCursor builds a cursor on day. A zero or future day selects today.
func NewCursor(day, now time.Time, loc *time.Location) Cursor {
	today := StartOfDay(now, loc)
	if day.IsZero() {
		return Cursor{Day: today, Today: today}
	}
	c := Cursor{Today: today}
	return c.at(StartOfDay(day, loc))
}

func (c Cursor) at(day time.Time) Cursor {
	if day.After(c.Today) {
		day = c.Today
	}
	c.Day = day
	return c
}

func (c Cursor) NextDay() Cursor { return c.at(c.Day.AddDate(0, 0, 1)) }

func (c Cursor) PrevDay() Cursor { return c.at(c.Day.AddDate(0, 0, -1)) }

func (c Cursor) NextMonth() Cursor { return c.at(AddMonths(c.Day, 1)) }

func (c Cursor) PrevMonth() Cursor { return c.at(AddMonths(c.Day, -1)) }

// Move applies a named move. An empty name leaves the cursor unchanged.
func (c Cursor) Move(name string) (Cursor, error) {
	switch name {
	case "":
		return c, nil
	case MovePrevMonth:
		return c.PrevMonth(), nil
	case MovePrevDay:
		return c.PrevDay(), nil
	case MoveNextDay:
		return c.NextDay(), nil
	case MoveNextMonth:
		return c.NextMonth(), nil
	case MoveToday:
		return c.at(c.Today), nil
	default:
		return c, fmt.Errorf("%w: %q", ErrUnknownMove, name)
	}
}

// CanAdvance reports whether a forward move would change the selected day.
func (c Cursor) CanAdvance() bool { return c.Day.Before(c.Today) }

func (c Cursor) IsToday() bool { return c.Day.Equal(c.Today) }

func (c Cursor) Range() DayRange { return RangeForDay(c.Day, c.Day.Location()) }

func (c Cursor) String() string { return c.Day.Format(DayLayout) }

// CalendarCell is one day in a month grid.
type CalendarCell struct {
	Date     time.Time
	InMonth  bool
	Selected bool
	Today    bool
	Future   bool
}

func (c CalendarCell) Key() string { return c.Date.Format(DayLayout) }

// MonthGrid lays out a month as Sunday-first weeks, padded with days of the
// neighbouring months.
type MonthGrid struct {
	Month   time.Time
	Weeks   [][]CalendarCell
	Prev    time.Time
	Next    time.Time
	HasNext bool
}

// NewMonthGrid builds the grid for the month containing month.
func NewMonthGrid(month, selected, today time.Time) MonthGrid {
	loc := month.Location()
	y, m, _ := month.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, 6-int(last.Weekday()))
	todayStart := StartOfDay(today, loc)

	g := MonthGrid{
		Month: first,
		Prev:  first.AddDate(0, -1, 0),
		Next:  first.AddDate(0, 1, 0),
	}
	g.HasNext = !g.Next.After(todayStart)

	week := make([]CalendarCell, 0, 7)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		week = append(week, CalendarCell{
			Date:     d,
			InMonth:  d.Month() == m,
			Selected: SameDay(d, selected.In(loc)),
			Today:    SameDay(d, todayStart),
			Future:   d.After(todayStart),
		})
		if len(week) == 7 {
			g.Weeks = append(g.Weeks, week)
			week = make([]CalendarCell, 0, 7)
		}
	}
	return g
}
