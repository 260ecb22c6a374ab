package holiday

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
)

const (
	DefaultWindowDays = 180
	DefaultRetryAfter = 10 * time.Minute
	DefaultRefresh    = "0 0 * * *"
)

// Options configures an Oracle.
type Options struct {
	// Regional sources are only consulted for a non-empty region.
	Regional []Source
	// Calendars are consulted for every lookup, region or not.
	Calendars []Source

	// Region is refreshed by the cron task.
	Region string

	Location   *time.Location
	WindowDays int
	Timeout    time.Duration
	RetryAfter time.Duration

	// Refresh is a standard 5-field cron expression.
	Refresh string
}

// window is one fetched range of holidays. It is never mutated after it
// is stored.
type window struct {
	from     time.Time
	to       time.Time
	holidays []model.Holiday
}

func (w *window) covers(day time.Time) bool {
	return !day.Before(w.from) && !day.After(w.to)
}

func (w *window) holiday(day time.Time) (model.Holiday, bool) {
	for _, h := range w.holidays {
		if h.Covers(day) {
			return h, true
		}
	}
	return model.Holiday{}, false
}

// slot holds one cached window and the time of its last failed fetch.
type slot struct {
	win      *window
	failedAt time.Time
}

func (s *slot) answer(day time.Time) (bool, bool) {
	if s.win == nil || !s.win.covers(day) {
		return false, false
	}
	_, ok := s.win.holiday(day)
	return ok, true
}

// entry caches a region. The current slot starts today and serves the
// bell; lookups outside it go to the other slot so they never evict it.
type entry struct {
	current slot
	other   slot
}

// Oracle answers "is this date a holiday" from cached windows of
// holidays, fetching a new window when a date falls outside them. Lookup
// failures never stop the bell: a date that cannot be answered from the
// cache is a school day.
type Oracle struct {
	regional  []Source
	calendars []Source
	region    string

	loc        *time.Location
	windowDays int
	timeout    time.Duration
	retryAfter time.Duration
	refresh    string

	log *appLog.Logger
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	// fetchMu keeps at most one lookup in flight.
	fetchMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewOracle creates an Oracle. Nothing is fetched until the first lookup
// or refresh.
func NewOracle(opts Options, logger *appLog.Logger) *Oracle {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = DefaultRetryAfter
	}
	if opts.Refresh == "" {
		opts.Refresh = DefaultRefresh
	}
	return &Oracle{
		regional:   opts.Regional,
		calendars:  opts.Calendars,
		region:     opts.Region,
		loc:        opts.Location,
		windowDays: opts.WindowDays,
		timeout:    opts.Timeout,
		retryAfter: opts.RetryAfter,
		refresh:    opts.Refresh,
		log:        logger,
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
}

// Enabled reports whether a lookup for region can ever return true.
func (o *Oracle) Enabled(region string) bool {
	return region != "" || len(o.calendars) > 0
}

// IsHoliday reports whether the calendar day of date is a holiday in
// region. It never returns an error.
func (o *Oracle) IsHoliday(ctx context.Context, region string, date time.Time) bool {
	if !o.Enabled(region) {
		return false
	}
	day := model.DateOf(date.In(o.loc))

	if answer, ok := o.cached(region, day); ok {
		return answer
	}

	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()

	// Another caller may have filled the cache while we waited.
	if answer, ok := o.cached(region, day); ok {
		return answer
	}

	if o.backingOff(region, day) {
		o.log.Debug("holiday lookup backing off", "region", region, "date", day.Format(time.DateOnly))
		return false
	}

	if err := o.fetch(ctx, region, day); err != nil {
		o.log.Error("holiday lookup failed, assuming school day", err, "region", region, "date", day.Format(time.DateOnly))
		return false
	}

	answer, _ := o.cached(region, day)
	return answer
}

// Holiday returns the holiday covering date from the cache, without any
// network access.
func (o *Oracle) Holiday(region string, date time.Time) (model.Holiday, bool) {
	day := model.DateOf(date.In(o.loc))
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.entries[region]
	if e == nil {
		return model.Holiday{}, false
	}
	for _, w := range []*window{e.current.win, e.other.win} {
		if w != nil && w.covers(day) {
			return w.holiday(day)
		}
	}
	return model.Holiday{}, false
}

// Refresh fetches a fresh window starting today for the configured
// region, ignoring any backoff. On failure the previous window stays.
func (o *Oracle) Refresh(ctx context.Context) error {
	if !o.Enabled(o.region) {
		return nil
	}
	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()

	return o.fetch(ctx, o.region, o.today())
}

// Start registers the daily refresh with cron.
func (o *Oracle) Start(ctx context.Context) error {
	if !o.Enabled(o.region) {
		return nil
	}
	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron != nil {
		return errors.New("holiday: refresh already started")
	}

	c := cron.New(cron.WithLocation(o.loc))
	if _, err := c.AddFunc(o.refresh, func() {
		if err := o.Refresh(ctx); err != nil {
			o.log.Error("holiday refresh failed", err, "region", o.region)
			return
		}
		o.log.Info("holiday refresh done", "region", o.region)
	}); err != nil {
		return fmt.Errorf("holiday: refresh schedule %q: %w", o.refresh, err)
	}
	c.Start()
	o.cron = c

	o.log.Info("holiday refresh scheduled", "cron", o.refresh, "region", o.region)
	return nil
}

// Stop stops the refresh task and waits for a running refresh to finish.
func (o *Oracle) Stop() {
	o.cronMu.Lock()
	c := o.cron
	o.cron = nil
	o.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// cached answers from whichever window covers day.
func (o *Oracle) cached(region string, day time.Time) (bool, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.entries[region]
	if e == nil {
		return false, false
	}
	if answer, ok := e.current.answer(day); ok {
		return answer, true
	}
	return e.other.answer(day)
}

// today returns the current calendar day in the oracle's zone.
func (o *Oracle) today() time.Time {
	return model.DateOf(o.now().In(o.loc))
}

// inCurrent reports whether day belongs to the window starting today.
func (o *Oracle) inCurrent(day time.Time) bool {
	today := o.today()
	return !day.Before(today) && !day.After(today.AddDate(0, 0, o.windowDays))
}

// slotFor returns the slot day is fetched into. Callers hold mu.
func (o *Oracle) slotFor(e *entry, day time.Time) *slot {
	if o.inCurrent(day) {
		return &e.current
	}
	return &e.other
}

func (o *Oracle) backingOff(region string, day time.Time) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.entries[region]
	if e == nil {
		return false
	}
	s := o.slotFor(e, day)
	return !s.failedAt.IsZero() && o.now().Sub(s.failedAt) < o.retryAfter
}

// fetch queries every source and swaps in the new window. Days from today
// up to the window size fill the current slot starting today; any other
// day fills the other slot starting at that day. Callers hold fetchMu.
func (o *Oracle) fetch(ctx context.Context, region string, day time.Time) error {
	from := day
	if o.inCurrent(day) {
		from = o.today()
	}
	to := from.AddDate(0, 0, o.windowDays)

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	holidays, err := o.query(ctx, region, from, to)
	if err != nil {
		o.mu.Lock()
		o.slotFor(o.entry(region), day).failedAt = o.now()
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	s := o.slotFor(o.entry(region), day)
	s.win = &window{from: from, to: to, holidays: holidays}
	s.failedAt = time.Time{}
	o.mu.Unlock()

	o.log.Info("holidays fetched",
		"region", region,
		"from", from.Format(time.DateOnly),
		"to", to.Format(time.DateOnly),
		"count", len(holidays),
	)
	return nil
}

func (o *Oracle) query(ctx context.Context, region string, from, to time.Time) ([]model.Holiday, error) {
	var out []model.Holiday
	if region != "" && len(o.regional) > 0 {
		r, err := ParseRegion(region)
		if err != nil {
			return nil, err
		}
		for _, src := range o.regional {
			hs, err := src.Holidays(ctx, r, from, to)
			if err != nil {
				return nil, err
			}
			out = append(out, hs...)
		}
	}
	for _, src := range o.calendars {
		hs, err := src.Holidays(ctx, Region{}, from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, hs...)
	}
	return out, nil
}

// entry returns the cache entry of region, creating it. Callers hold mu.
func (o *Oracle) entry(region string) *entry {
	e := o.entries[region]
	if e == nil {
		e = &entry{}
		o.entries[region] = e
	}
	return e
}
