package services

import (
	"time"

	"github.com/nimasrn/school-notify/internal/model"
)

// Calendar places instants in the platform time zone. Billing months,
// provider days and the "today" of delivery stats all follow it.
type Calendar struct {
	Location *time.Location
	Now      func() time.Time
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc, Now: time.Now}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// NowUTC is the current instant as stored in the database.
func (c Calendar) NowUTC() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c Calendar) Period(t time.Time) string {
	return model.UsagePeriod(t.In(c.loc()))
}

func (c Calendar) Day(t time.Time) string {
	return t.In(c.loc()).Format("2006-01-02")
}

func (c Calendar) DayStart(t time.Time) time.Time {
	l := t.In(c.loc())
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc())
}

func (c Calendar) MonthStart(t time.Time) time.Time {
	l := t.In(c.loc())
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, c.loc())
}
