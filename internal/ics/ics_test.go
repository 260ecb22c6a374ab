package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
)

var holidayCalendar = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//schoolbell//test//EN",
	"BEGIN:VEVENT",
	"UID:xmas@test",
	"DTSTAMP:20260101T000000Z",
	"DTSTART;VALUE=DATE:20251225",
	"DTEND;VALUE=DATE:20251226",
	"RRULE:FREQ=YEARLY",
	"EXDATE;VALUE=DATE:20271225",
	"SUMMARY:Christmas",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:autumn@test",
	"DTSTAMP:20260101T000000Z",
	"DTSTART;VALUE=DATE:20261026",
	"DTEND;VALUE=DATE:20261031",
	"SUMMARY:Autumn break",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:staff@test",
	"DTSTAMP:20260101T000000Z",
	"DTSTART:20261110T120000Z",
	"DTEND:20261110T130000Z",
	"SUMMARY:Staff day",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "school"}, []byte(holidayCalendar), appLog.NewNop())
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	byUID := map[string]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}
	xmas := byUID["xmas@test"]
	if !xmas.AllDay || xmas.RawRRule != "FREQ=YEARLY" || len(xmas.ExDates) != 1 {
		t.Fatalf("unexpected christmas event: %+v", xmas)
	}
	if byUID["staff@test"].AllDay {
		t.Fatalf("timed event parsed as all-day")
	}

	if _, err := ParseICS(Source{ID: "empty"}, nil, appLog.NewNop()); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestExpandHolidays(t *testing.T) {
	events, err := ParseICS(Source{ID: "school"}, []byte(holidayCalendar), appLog.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	hs, err := ExpandHolidays(events, ExpandConfig{
		Location:   time.Local,
		RangeStart: date(2026, time.October, 16),
		RangeEnd:   date(2028, time.January, 31),
	}, appLog.NewNop())
	if err != nil {
		t.Fatalf("ExpandHolidays: %v", err)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].Start.Before(hs[j].Start) })

	if len(hs) != 3 {
		t.Fatalf("expected 3 holidays (autumn, staff, christmas 2026), got %d: %+v", len(hs), hs)
	}

	autumn := hs[0]
	if autumn.Name != "Autumn break" || !autumn.Start.Equal(date(2026, time.October, 26)) || !autumn.End.Equal(date(2026, time.October, 30)) {
		t.Fatalf("autumn break = %+v", autumn)
	}
	if autumn.Kind != model.HolidayCalendar || autumn.SourceID != "school" {
		t.Fatalf("autumn metadata = %+v", autumn)
	}
	if !autumn.Covers(date(2026, time.October, 30).Add(15*time.Hour)) || autumn.Covers(date(2026, time.October, 31)) {
		t.Fatalf("DTEND of an all-day event must be exclusive")
	}

	if hs[1].Name != "Staff day" || !hs[1].Start.Equal(hs[1].End) {
		t.Fatalf("staff day = %+v", hs[1])
	}

	if hs[2].Name != "Christmas" || !hs[2].Start.Equal(date(2026, time.December, 25)) {
		t.Fatalf("christmas = %+v", hs[2])
	}

	if _, err := ExpandHolidays(events, ExpandConfig{RangeStart: date(2027, 1, 1), RangeEnd: date(2026, 1, 1)}, appLog.NewNop()); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestFetcherCachesAndFallsBack(t *testing.T) {
	var hits atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(holidayCalendar))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second, appLog.NewNop())
	src := Source{ID: "school", URL: srv.URL + "/private/token.ics"}

	first, err := f.FetchOne(context.Background(), src)
	if err != nil || first.FromCache || len(first.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", first, err)
	}

	second, err := f.FetchOne(context.Background(), src)
	if err != nil || !second.FromCache {
		t.Fatalf("second fetch should be served from cache after 304: %+v, %v", second.FromCache, err)
	}

	down.Store(true)
	third, err := f.FetchOne(context.Background(), src)
	if err != nil || !third.FromCache || string(third.Body) != holidayCalendar {
		t.Fatalf("outage should fall back to cached body: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}

	results, errs := f.FetchAll(context.Background(), []Source{src, {ID: "nourl"}})
	if len(results) != 1 || len(errs) != 1 {
		t.Fatalf("FetchAll = %d results, %d errors", len(results), len(errs))
	}
}

func TestRedactURL(t *testing.T) {
	cases := map[string]string{
		"https://example.com/path/private.ics?token=abcd": "https://example.com/...(redacted)",
		"http://host:8080":                                "http://host:8080/...(redacted)",
		"not a url":                                       "ics://...(redacted)",
	}
	for in, want := range cases {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
}
