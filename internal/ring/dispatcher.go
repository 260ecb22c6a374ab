// Package ring fans a bell out to the local speaker, the buzzer and every
// trigger host.
package ring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolbell/internal/buzzer"
	appLog "schoolbell/internal/log"
	"schoolbell/internal/model"
	"schoolbell/internal/player"
	"schoolbell/internal/trigger"
)

// Player plays clips locally and on trigger hosts.
type Player interface {
	Play(ctx context.Context, clip string, opts player.PlayOptions) error
	PlayRemote(ctx context.Context, host, clip string, opts player.RemoteOptions) error
}

// Catalog resolves bell keys to clip paths.
type Catalog interface {
	Resolve(key string) (string, error)
	ResolveIn(key, root string) (string, error)
}

// Targets lists the active trigger hosts.
type Targets interface {
	Targets() []trigger.Target
}

// HolidayChecker tells whether a date is a holiday in a region.
type HolidayChecker interface {
	IsHoliday(ctx context.Context, region string, date time.Time) bool
}

// Deps are the collaborators of a Dispatcher. Targets, Holidays and
// Buzzer are optional.
type Deps struct {
	Catalog  Catalog
	Player   Player
	Targets  Targets
	Holidays HolidayChecker
	Buzzer   buzzer.Buzzer
}

// Options configure a Dispatcher.
type Options struct {
	// Region is passed to the holiday checker; empty disables suppression.
	Region string
	// Device is the local output device hint.
	Device string
	// Location defines "today" for the holiday check.
	Location *time.Location
	// HistorySize bounds the recent ring history.
	HistorySize int
}

// Dispatcher rings bells. Ring may be called from several goroutines;
// each call waits for its own fan-out.
type Dispatcher struct {
	deps    Deps
	region  string
	device  string
	loc     *time.Location
	history *History
	log     *appLog.Logger

	now   func() time.Time
	newID func() string
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(deps Deps, opts Options, logger *appLog.Logger) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Dispatcher{
		deps:    deps,
		region:  opts.Region,
		device:  opts.Device,
		loc:     opts.Location,
		history: NewHistory(opts.HistorySize),
		log:     logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// History returns the recent ring events.
func (d *Dispatcher) History() *History {
	return d.history
}

type task struct {
	kind model.TargetKind
	host string
	clip string
}

// Ring plays key everywhere unless today is a holiday. The only error is
// an unknown key; failures of single targets are recorded in the event.
func (d *Dispatcher) Ring(ctx context.Context, key string) (model.RingEvent, error) {
	clip, err := d.deps.Catalog.Resolve(key)
	if err != nil {
		return model.RingEvent{}, err
	}

	at := d.now().In(d.loc)
	ev := model.RingEvent{ID: d.newID(), Key: key, At: at}
	log := d.log.With("ring", ev.ID, "key", key)

	if d.deps.Holidays != nil && d.deps.Holidays.IsHoliday(ctx, d.region, at) {
		ev.Suppressed = true
		log.Info("holiday, bell suppressed", "region", d.region, "date", at.Format(time.DateOnly))
		d.history.Add(ev)
		return ev, nil
	}

	tasks := []task{{kind: model.TargetLocal, clip: clip}}
	if d.deps.Targets != nil {
		for _, t := range d.deps.Targets.Targets() {
			remoteClip, err := d.deps.Catalog.ResolveIn(key, t.Root)
			if err != nil {
				return model.RingEvent{}, err
			}
			tasks = append(tasks, task{kind: model.TargetRemote, host: t.Host, clip: remoteClip})
		}
	}

	d.buzz(log, true)

	ev.Outcomes = make([]model.TargetOutcome, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()
			ev.Outcomes[i] = d.run(ctx, log, t)
		}(i, t)
	}
	wg.Wait()

	d.buzz(log, false)

	log.Info("ring done", "targets", len(tasks), "failed", ev.Failed())
	d.history.Add(ev)
	return ev, nil
}

// Play plays key once on the local speaker, in full.
func (d *Dispatcher) Play(ctx context.Context, key string) error {
	clip, err := d.deps.Catalog.Resolve(key)
	if err != nil {
		return err
	}
	d.log.Info("playing", "key", key, "clip", clip)
	return d.deps.Player.Play(ctx, clip, player.PlayOptions{Device: d.device})
}

func (d *Dispatcher) run(ctx context.Context, log *appLog.Logger, t task) model.TargetOutcome {
	out := model.TargetOutcome{Kind: t.kind, Host: t.host, Clip: t.clip}
	start := time.Now()

	var err error
	switch t.kind {
	case model.TargetLocal:
		err = d.deps.Player.Play(ctx, t.clip, player.PlayOptions{Device: d.device})
	default:
		err = d.deps.Player.PlayRemote(ctx, t.host, t.clip, player.RemoteOptions{})
	}
	out.Duration = time.Since(start)

	if err != nil {
		out.Error = err.Error()
		log.Error("ring target failed", err, "target", t.kind, "host", t.host, "clip", t.clip)
		return out
	}
	out.OK = true
	log.Debug("ring target done", "target", t.kind, "host", t.host, "took", out.Duration)
	return out
}

func (d *Dispatcher) buzz(log *appLog.Logger, on bool) {
	if d.deps.Buzzer == nil {
		return
	}
	var err error
	if on {
		err = d.deps.Buzzer.On()
	} else {
		err = d.deps.Buzzer.Off()
	}
	if err != nil {
		log.Error("buzzer failed", err, "on", on)
	}
}
