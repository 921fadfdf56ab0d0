package ingest

import (
	"time"

	"github.com/scmhub/calendar"

	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// sessions finds exchange business days. It falls back to plain weekdays
// when the calendar cannot be loaded.
type sessions struct {
	cal *calendar.Calendar
	loc *time.Location
}

func newSessions() *sessions {
	cal := calendar.GetCalendar("xnys")
	if cal != nil {
		return &sessions{cal: cal, loc: cal.Loc}
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &sessions{loc: loc}
}

func (s *sessions) isBusinessDay(t time.Time) bool {
	t = t.In(s.loc)
	if s.cal != nil {
		return s.cal.IsBusinessDay(t)
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// previous returns local midnight of the last business day strictly before
// now.
func (s *sessions) previous(now time.Time) time.Time {
	local := now.In(s.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	for i := 0; i < 14; i++ {
		day = day.AddDate(0, 0, -1)
		if s.isBusinessDay(day) {
			return day
		}
	}
	return day
}

// applyDefaultRange fills an omitted start: equity and option bars begin at
// the previous exchange session, crypto and news at the UTC midnight
// a day before today's. Both are day-aligned: a defaulted job re-run on the
// same day keeps its range digest.
func applyDefaultRange(j *Job, now time.Time, s *sessions) {
	if !j.Start.IsZero() {
		return
	}
	switch j.Kind {
	case model.JobStockBars, model.JobOptionBars:
		j.Start = s.previous(now).UTC()
	case model.JobCryptoBars, model.JobNews:
		j.Start = now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	}
	if !j.End.IsZero() && j.Start.After(j.End) {
		j.Start = time.Time{}
	}
}
