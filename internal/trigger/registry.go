// Package trigger keeps the remote hosts a ring is fanned out to.
package trigger

import (
	"context"
	"sort"
	"sync"
	"time"

	appLog "schoolbell/internal/log"
)

// DefaultProbeTimeout bounds a single capability probe.
const DefaultProbeTimeout = 3 * time.Second

// Prober checks that a host accepts remote rings.
type Prober interface {
	Probe(ctx context.Context, host string) error
}

// Target is one active remote host and the root of its bell files.
type Target struct {
	Host string `json:"host"`
	Root string `json:"root"`
}

// Registry is the set of remote hosts that passed their probe.
type Registry struct {
	prober  Prober
	timeout time.Duration
	log     *appLog.Logger

	mu      sync.Mutex
	targets map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry(prober Prober, logger *appLog.Logger) *Registry {
	return &Registry{
		prober:  prober,
		timeout: DefaultProbeTimeout,
		log:     logger,
		targets: make(map[string]string),
	}
}

// Register probes host and keeps it when the probe succeeds. A failed
// probe is logged and the host is left out; it is never fatal.
func (r *Registry) Register(ctx context.Context, host, root string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.prober.Probe(ctx, host); err != nil {
		r.log.Warn("remote ring test failed; host dropped", "host", host, "err", err)
		return false
	}

	r.mu.Lock()
	r.targets[host] = root
	r.mu.Unlock()

	r.log.Info("remote ring", "host", host, "root", root)
	return true
}

// RegisterAll probes every host concurrently and returns the number kept.
func (r *Registry) RegisterAll(ctx context.Context, triggers map[string]string) int {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		kept int
	)
	for host, root := range triggers {
		wg.Add(1)
		go func(host, root string) {
			defer wg.Done()
			if r.Register(ctx, host, root) {
				mu.Lock()
				kept++
				mu.Unlock()
			}
		}(host, root)
	}
	wg.Wait()
	return kept
}

// Targets returns the active hosts sorted by name. Ring fan-out treats them
// as an unordered set; sorting only keeps logs readable.
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Target, 0, len(r.targets))
	for h, root := range r.targets {
		out = append(out, Target{Host: h, Root: root})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Len returns the number of active hosts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}
