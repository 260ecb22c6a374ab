package model

import "time"

// HolidayKind tells where a holiday interval came from.
type HolidayKind string

const (
	HolidayPublic   HolidayKind = "public"
	HolidaySchool   HolidayKind = "school"
	HolidayCalendar HolidayKind = "calendar"
)

// Holiday is a closed interval of calendar days on which the bell stays
// silent. Start and End are dates (midnight) in the schedule's location;
// a one-day holiday has Start == End.
type Holiday struct {
	SourceID string      `json:"source_id"` // "openholidays" or an ICS source ID
	Name     string      `json:"name"`
	Kind     HolidayKind `json:"kind"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Covers reports whether the calendar day of t falls within the holiday.
// Only the year/month/day of t in the holiday's location are considered.
func (h Holiday) Covers(t time.Time) bool {
	d := DateOf(t.In(h.Start.Location()))
	return !d.Before(DateOf(h.Start)) && !d.After(DateOf(h.End))
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TargetKind distinguishes the local speaker from remote trigger hosts.
type TargetKind string

const (
	TargetLocal  TargetKind = "local"
	TargetRemote TargetKind = "remote"
)

// TargetOutcome is the result of playing one ring on one target. Host is
// empty for the local target.
type TargetOutcome struct {
	Kind     TargetKind    `json:"kind"`
	Host     string        `json:"host,omitempty"`
	Clip     string        `json:"clip"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RingEvent records one ring. It is kept in memory only.
type RingEvent struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	At         time.Time       `json:"at"`
	Suppressed bool            `json:"suppressed"`
	Outcomes   []TargetOutcome `json:"outcomes,omitempty"`
}

// Failed returns the number of targets that did not play.
func (e RingEvent) Failed() int {
	n := 0
	for _, o := range e.Outcomes {
		if !o.OK {
			n++
		}
	}
	return n
}
