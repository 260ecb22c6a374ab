package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is where calendar days are evaluated. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandHolidays turns calendar events into holiday day-intervals within
// the range. It handles single events, RRULE recurrences, EXDATE and
// RECURRENCE-ID overrides.
func ExpandHolidays(events []ParsedEvent, cfg ExpandConfig, logger *appLog.Logger) ([]model.Holiday, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		} else {
			base[ev.UID] = append(base[ev.UID], ev)
		}
	}

	out := make([]model.Holiday, 0)
	for uid, evs := range base {
		for _, ev := range evs {
			if ev.RawRRule == "" {
				if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
					out = append(out, toHoliday(ev, ev.Start, ev.End, cfg.Location))
				}
				continue
			}

			hs, truncated := expandRecurring(ev, overrides[uid], cfg, logger)
			if truncated {
				logger.Warn("calendar rule truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, hs...)
		}
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig, logger *appLog.Logger) ([]model.Holiday, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		logger.Warn("calendar RRULE ignored", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Include occurrences that started before the range but still last
	// into it.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.In(ev.Start.Location()).Add(-dur)
	to := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(from, to, true)
	truncated := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		truncated = true
	}

	out := make([]model.Holiday, 0, len(starts))
	for _, s := range starts {
		occ, start, end := ev, s, s.Add(dur)
		if o, ok := findOverride(overrides, s); ok {
			occ, start, end = o, o.Start, o.End
		}
		if overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, toHoliday(occ, start, end, cfg.Location))
		}
	}
	return out, truncated
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toHoliday converts an occurrence into the calendar days it touches. An
// end exactly at midnight is exclusive (all-day DTEND is the next day).
func toHoliday(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Holiday {
	first := model.DateOf(start.In(loc))
	lastInstant := end.In(loc)
	last := model.DateOf(lastInstant)
	if lastInstant.Equal(last) && last.After(first) {
		last = last.AddDate(0, 0, -1)
	}
	return model.Holiday{
		SourceID: ev.Source.ID,
		Name:     ev.Summary,
		Kind:     model.HolidayCalendar,
		Start:    first,
		End:      last,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
