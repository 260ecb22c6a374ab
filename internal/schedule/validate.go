// Package schedule turns the weekly bell schedule into ring calls.
package schedule

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidDay  = errors.New("invalid day")
	ErrInvalidTime = errors.New("invalid time")
)

// Days are the accepted day abbreviations, Monday first.
var Days = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var weekdays = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})(?::(\d{1,2}))?$`)

// ValidateDay reports whether s is one of Mon..Sun.
func ValidateDay(s string) bool {
	_, ok := weekdays[s]
	return ok
}

// ValidateTime reports whether s is a 24-hour H:M or H:M:S time.
func ValidateTime(s string) bool {
	_, _, _, err := ParseTime(s)
	return err == nil
}

// ParseTime splits a time of day into hour, minute and second.
func ParseTime(s string) (hour, minute, second int, err error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, ErrInvalidTime
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		second, _ = strconv.Atoi(m[3])
	}
	if hour > 23 || minute > 59 || second > 59 {
		return 0, 0, 0, ErrInvalidTime
	}
	return hour, minute, second, nil
}
