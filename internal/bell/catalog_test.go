package bell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/player"
)

type fakeTester struct {
	played []string
	opts   []player.PlayOptions
	err    error
}

func (f *fakeTester) Play(_ context.Context, clip string, opts player.PlayOptions) error {
	f.played = append(f.played, clip)
	f.opts = append(f.opts, opts)
	return f.err
}

func writeClip(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterAndResolve(t *testing.T) {
	root := t.TempDir()
	writeClip(t, root, "a.wav")

	c := NewCatalog(Options{Root: root}, nil, appLog.NewNop())
	if err := c.Register(context.Background(), "bellA", "a.wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := c.Resolve("bellA")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(root, "a.wav"); got != want {
		t.Fatalf("Resolve = %q, want %q", got, want)
	}

	remote, err := c.ResolveIn("bellA", "/home/pi/bells")
	if err != nil || remote != "/home/pi/bells/a.wav" {
		t.Fatalf("ResolveIn = %q, %v", remote, err)
	}

	if _, err := c.Resolve("nope"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if _, err := c.ResolveIn("nope", "/x"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if !c.Has("bellA") || c.Has("nope") {
		t.Fatalf("Has mismatch")
	}
}

func TestRegisterExpandsEnvInRelativePath(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "tones"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeClip(t, filepath.Join(root, "tones"), "a.wav")
	t.Setenv("BELLS", "tones")

	c := NewCatalog(Options{Root: root}, nil, appLog.NewNop())
	if err := c.Register(context.Background(), "bellA", "$BELLS/a.wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	remote, err := c.ResolveIn("bellA", "/home/pi/bells")
	if err != nil || remote != "/home/pi/bells/tones/a.wav" {
		t.Fatalf("ResolveIn = %q, %v", remote, err)
	}
}

func TestRegisterErrors(t *testing.T) {
	root := t.TempDir()
	writeClip(t, root, "a.wav")
	if err := os.Mkdir(filepath.Join(root, "dir.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCatalog(Options{Root: root}, nil, appLog.NewNop())
	if err := c.Register(context.Background(), "x", "missing.wav"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file: expected ErrNotFound, got %v", err)
	}
	if err := c.Register(context.Background(), "d", "dir.wav"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("directory: expected ErrNotFound, got %v", err)
	}
	if err := c.Register(context.Background(), "a", "a.wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Register(context.Background(), "a", "a.wav"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate: expected ErrDuplicateKey, got %v", err)
	}
}

func TestRegisterTestMode(t *testing.T) {
	root := t.TempDir()
	writeClip(t, root, "a.wav")
	writeClip(t, root, "b.wav")

	tester := &fakeTester{}
	c := NewCatalog(Options{Root: root, Device: "hw:1", Test: true}, tester, appLog.NewNop())
	if err := c.RegisterAll(context.Background(), map[string]string{"b": "b.wav", "a": "a.wav"}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	if len(tester.played) != 2 {
		t.Fatalf("expected 2 test plays, got %d", len(tester.played))
	}
	if tester.played[0] != filepath.Join(root, "a.wav") {
		t.Fatalf("keys should register in sorted order, first play = %q", tester.played[0])
	}
	for _, o := range tester.opts {
		if !o.Test || o.Device != "hw:1" {
			t.Fatalf("unexpected play options %+v", o)
		}
	}

	failing := NewCatalog(Options{Root: root, Test: true}, &fakeTester{err: errors.New("exit status 1")}, appLog.NewNop())
	if err := failing.Register(context.Background(), "a", "a.wav"); !errors.Is(err, ErrPlayback) {
		t.Fatalf("expected ErrPlayback, got %v", err)
	}
	if failing.Has("a") {
		t.Fatalf("failed registration must not insert the key")
	}
}

func TestKeysSorted(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"c.wav", "a.wav", "b.wav"} {
		writeClip(t, root, n)
	}
	c := NewCatalog(Options{Root: root}, nil, appLog.NewNop())
	if err := c.RegisterAll(context.Background(), map[string]string{"c": "c.wav", "a": "a.wav", "b": "b.wav"}); err != nil {
		t.Fatal(err)
	}
	keys := c.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("Keys = %v", keys)
	}
}
