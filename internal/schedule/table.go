package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"schoolbell/internal/bell"
)

// Entry is one weekly bell.
type Entry struct {
	Day     string       `json:"day"`
	Weekday time.Weekday `json:"-"`
	Time    string       `json:"time"`
	Key     string       `json:"key"`

	Hour   int `json:"-"`
	Minute int `json:"-"`
	Second int `json:"-"`
}

// On returns the occurrence of e on the calendar day of d, in d's location.
func (e Entry) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, e.Hour, e.Minute, e.Second, 0, d.Location())
}

// Occurrence is an entry at a concrete instant.
type Occurrence struct {
	Entry Entry     `json:"entry"`
	At    time.Time `json:"at"`
}

// Keys reports which bell keys exist. *bell.Catalog satisfies it.
type Keys interface {
	Has(key string) bool
}

// Table is the validated, immutable weekly schedule.
type Table struct {
	entries []Entry
}

// NewTable validates every (day, time, key) triple. Any invalid day, time
// or unknown key fails the whole table.
func NewTable(cfg map[string]map[string]string, keys Keys) (*Table, error) {
	entries := make([]Entry, 0)
	for day, times := range cfg {
		if !ValidateDay(day) {
			return nil, fmt.Errorf("%w: %q should be one of %v", ErrInvalidDay, day, Days)
		}
		for at, key := range times {
			h, m, s, err := ParseTime(at)
			if err != nil {
				return nil, fmt.Errorf("%w: %q on %s should look like HH:MM or HH:MM:SS", ErrInvalidTime, at, day)
			}
			if !keys.Has(key) {
				return nil, fmt.Errorf("%w: %q scheduled on %s at %s", bell.ErrUnknownKey, key, day, at)
			}
			entries = append(entries, Entry{
				Day:     day,
				Weekday: weekdays[day],
				Time:    at,
				Key:     key,
				Hour:    h,
				Minute:  m,
				Second:  s,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if da, db := mondayFirst(a.Weekday), mondayFirst(b.Weekday); da != db {
			return da < db
		}
		if ta, tb := a.secondOfDay(), b.secondOfDay(); ta != tb {
			return ta < tb
		}
		return a.Key < b.Key
	})
	return &Table{entries: entries}, nil
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func (e Entry) secondOfDay() int {
	return e.Hour*3600 + e.Minute*60 + e.Second
}

// Entries returns a copy of the entries in table order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Len is the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Due returns the occurrences in (from, to], oldest first. Occurrences at
// the same instant keep table order.
func (t *Table) Due(from, to time.Time) []Occurrence {
	if !to.After(from) {
		return nil
	}
	loc := to.Location()
	from = from.In(loc)

	var out []Occurrence
	y, m, d := from.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, e := range t.entries {
			if e.Weekday != day.Weekday() {
				continue
			}
			at := e.On(day)
			if at.After(from) && !at.After(to) {
				out = append(out, Occurrence{Entry: e, At: at})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

var rruleDays = [...]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Rule returns the weekly recurrence of e starting at dtstart.
func (e Entry) Rule(dtstart time.Time) (*rrule.RRule, error) {
	return rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   dtstart,
		Byweekday: []rrule.Weekday{rruleDays[e.Weekday]},
		Byhour:    []int{e.Hour},
		Byminute:  []int{e.Minute},
		Bysecond:  []int{e.Second},
	})
}

// Next returns the first occurrence strictly after the given instant.
func (t *Table) Next(after time.Time) (Occurrence, bool) {
	y, m, d := after.Date()
	dtstart := time.Date(y, m, d, 0, 0, 0, 0, after.Location()).AddDate(0, 0, -7)

	var best Occurrence
	found := false
	for _, e := range t.entries {
		r, err := e.Rule(dtstart)
		if err != nil {
			continue
		}
		at := r.After(after, false)
		if at.IsZero() {
			continue
		}
		if !found || at.Before(best.At) {
			best = Occurrence{Entry: e, At: at}
			found = true
		}
	}
	return best, found
}
