package schedule

import (
	"context"
	"time"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	// maxCatchUp bounds how far back a tick looks after a stall.
	maxCatchUp = time.Minute
)

// Clock abstracts wall time so the loop can be driven in tests.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ringer rings a bell key.
type Ringer interface {
	Ring(ctx context.Context, key string) (model.RingEvent, error)
}

// Options configure a Scheduler.
type Options struct {
	Interval time.Duration
	Location *time.Location
}

// Scheduler polls the table and rings due entries one after another.
type Scheduler struct {
	table    *Table
	ringer   Ringer
	clock    Clock
	interval time.Duration
	loc      *time.Location
	log      *appLog.Logger

	// last is the instant up to which entries have been handled.
	last time.Time
}

// NewScheduler creates a Scheduler. A nil clock means the system clock.
func NewScheduler(table *Table, ringer Ringer, clock Clock, opts Options, logger *appLog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Scheduler{
		table:    table,
		ringer:   ringer,
		clock:    clock,
		interval: opts.Interval,
		loc:      opts.Location,
		log:      logger,
	}
}

// Tick rings every entry that became due since the previous tick. The
// first tick also rings entries due within the current second. The only
// error is from the ringer (an unknown key), which is fatal.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)

	switch {
	case s.last.IsZero():
		s.last = now.Truncate(time.Second).Add(-time.Nanosecond)
	case now.Before(s.last):
		s.log.Warn("clock went backwards, skipping", "from", s.last, "to", now)
		s.last = now
		return nil
	case now.Sub(s.last) > maxCatchUp:
		s.log.Warn("scheduler stalled, skipping missed bells", "since", s.last, "now", now)
		s.last = now.Add(-maxCatchUp)
	}

	due := s.table.Due(s.last, now)
	s.last = now

	for _, occ := range due {
		s.log.Debug("bell due", "day", occ.Entry.Day, "time", occ.Entry.Time, "key", occ.Entry.Key)
		if _, err := s.ringer.Ring(ctx, occ.Entry.Key); err != nil {
			s.log.Error("ring failed", err, "key", occ.Entry.Key)
			return err
		}
	}
	return nil
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if next, ok := s.table.Next(s.clock.Now().In(s.loc)); ok {
		s.log.Info("scheduler running", "entries", s.table.Len(), "next", next.At.Format(time.RFC3339), "key", next.Entry.Key)
	}
	for {
		if err := s.Tick(ctx); err != nil {
			return err
		}
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			return nil
		}
	}
}

// RunTicks runs n ticks, sleeping between them, and returns.
func (s *Scheduler) RunTicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := s.Tick(ctx); err != nil {
			return err
		}
		if i == n-1 {
			break
		}
		if err := s.clock.Sleep(ctx, s.interval); err != nil {
			return nil
		}
	}
	return nil
}
