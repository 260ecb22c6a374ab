package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"

	appLog "schoolbell/internal/log"
)

type fakeProber struct {
	mu     sync.Mutex
	fail   map[string]bool
	probed []string
}

func (f *fakeProber) Probe(ctx context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, host)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("probe without deadline")
	}
	if f.fail[host] {
		return errors.New("ssh: connect to host " + host + " port 22: Connection timed out")
	}
	return nil
}

func TestRegisterDropsFailingHosts(t *testing.T) {
	p := &fakeProber{fail: map[string]bool{"pi@gym": true}}
	r := NewRegistry(p, appLog.NewNop())

	kept := r.RegisterAll(context.Background(), map[string]string{
		"pi@hall":  "/home/pi/bells",
		"pi@gym":   "/home/pi/bells",
		"pi@annex": "/srv/bells",
	})
	if kept != 2 || r.Len() != 2 {
		t.Fatalf("kept = %d, Len = %d, want 2", kept, r.Len())
	}
	if len(p.probed) != 3 {
		t.Fatalf("expected every host to be probed, got %v", p.probed)
	}

	targets := r.Targets()
	if targets[0].Host != "pi@annex" || targets[0].Root != "/srv/bells" || targets[1].Host != "pi@hall" {
		t.Fatalf("Targets = %+v", targets)
	}
}

func TestRegisterSingle(t *testing.T) {
	r := NewRegistry(&fakeProber{fail: map[string]bool{"down": true}}, appLog.NewNop())
	if r.Register(context.Background(), "down", "/x") {
		t.Fatalf("failing probe must not register")
	}
	if !r.Register(context.Background(), "up", "/x") {
		t.Fatalf("passing probe must register")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestEmptyRegistry(t *testing.T) {
	r := NewRegistry(&fakeProber{}, appLog.NewNop())
	if n := r.RegisterAll(context.Background(), nil); n != 0 {
		t.Fatalf("RegisterAll(nil) = %d", n)
	}
	if len(r.Targets()) != 0 {
		t.Fatalf("expected no targets")
	}
}
