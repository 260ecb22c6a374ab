package player

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	appLog "schoolbell/internal/log"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	stderr string
	err    error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return nil, []byte(f.stderr), f.err
}

type fakeRemote struct {
	hosts    []string
	commands []string
	err      error
}

func (f *fakeRemote) Run(_ context.Context, host, command string) ([]byte, []byte, error) {
	f.hosts = append(f.hosts, host)
	f.commands = append(f.commands, command)
	return nil, nil, f.err
}

func linuxPlayer(t *testing.T, remote Remote) (*Player, *fakeRunner) {
	t.Helper()
	cmd, err := PlatformCommand("linux")
	if err != nil {
		t.Fatalf("PlatformCommand: %v", err)
	}
	p := NewWithCommand(cmd, "aplay", remote, appLog.NewNop())
	fr := &fakeRunner{}
	p.run = fr.run
	return p, fr
}

func TestPlatformCommand(t *testing.T) {
	linux, err := PlatformCommand("linux")
	if err != nil || linux.Path != "/usr/bin/aplay" || linux.DeviceFlag != "-D" {
		t.Fatalf("linux command = %+v, %v", linux, err)
	}
	darwin, err := PlatformCommand("darwin")
	if err != nil || darwin.Path != "/usr/bin/afplay" || darwin.DeviceFlag != "" {
		t.Fatalf("darwin command = %+v, %v", darwin, err)
	}
	if _, err := PlatformCommand("windows"); !errors.Is(err, ErrUnsupportedPlatform) {
		t.Fatalf("windows: expected ErrUnsupportedPlatform, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	p, _ := linuxPlayer(t, nil)

	cases := []struct {
		name string
		opts PlayOptions
		want []string
	}{
		{"plain", PlayOptions{}, []string{"/bells/a.wav"}},
		{"test", PlayOptions{Test: true}, []string{"-d", "1", "/bells/a.wav"}},
		{"device", PlayOptions{Device: "hw:1"}, []string{"-D", "hw:1", "/bells/a.wav"}},
		{"test device", PlayOptions{Device: "hw:1", Test: true}, []string{"-d", "1", "-D", "hw:1", "/bells/a.wav"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Args("/bells/a.wav", tc.opts); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Args = %v, want %v", got, tc.want)
			}
		})
	}

	// afplay has no device flag; the hint is dropped.
	darwin, _ := PlatformCommand("darwin")
	dp := NewWithCommand(darwin, "", nil, appLog.NewNop())
	if got := dp.Args("a.wav", PlayOptions{Device: "hw:1", Test: true}); !reflect.DeepEqual(got, []string{"-t", "1", "a.wav"}) {
		t.Fatalf("darwin Args = %v", got)
	}
}

func TestPlay(t *testing.T) {
	p, fr := linuxPlayer(t, nil)

	if err := p.Play(context.Background(), "/bells/a.wav", PlayOptions{}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(fr.calls) != 1 || fr.calls[0].name != "/usr/bin/aplay" {
		t.Fatalf("unexpected calls: %+v", fr.calls)
	}

	fr.err = errors.New("exit status 1")
	fr.stderr = "aplay: main:831: audio open error"
	if err := p.Play(context.Background(), "/bells/a.wav", PlayOptions{}); err == nil {
		t.Fatalf("expected error from failing player")
	}
}

func TestPlayRemote(t *testing.T) {
	fr := &fakeRemote{}
	p, _ := linuxPlayer(t, fr)

	if err := p.PlayRemote(context.Background(), "pi@hall", "/home/pi/bells/a b.wav", RemoteOptions{}); err != nil {
		t.Fatalf("PlayRemote: %v", err)
	}
	want := `nohup aplay '/home/pi/bells/a b.wav' >/dev/null 2>&1 &`
	if fr.hosts[0] != "pi@hall" || fr.commands[0] != want {
		t.Fatalf("remote call = %q %q, want %q", fr.hosts[0], fr.commands[0], want)
	}

	if err := p.PlayRemote(context.Background(), "hall", "/a.wav", RemoteOptions{Test: true}); err != nil {
		t.Fatalf("PlayRemote test: %v", err)
	}
	if fr.commands[1] != "aplay /a.wav" {
		t.Fatalf("foreground command = %q", fr.commands[1])
	}

	fr.err = errors.New("connect timeout")
	if err := p.PlayRemote(context.Background(), "hall", "/a.wav", RemoteOptions{}); err == nil {
		t.Fatalf("expected remote error")
	}
}

func TestProbe(t *testing.T) {
	fr := &fakeRemote{}
	p, _ := linuxPlayer(t, fr)
	if err := p.Probe(context.Background(), "hall"); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if fr.commands[0] != "aplay --help" {
		t.Fatalf("probe command = %q", fr.commands[0])
	}

	noRemote, _ := linuxPlayer(t, nil)
	if err := noRemote.Probe(context.Background(), "hall"); err == nil {
		t.Fatalf("expected error without remote runner")
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"/home/pi/a.wav": "/home/pi/a.wav",
		"a b.wav":        "'a b.wav'",
		"it's.wav":       `'it'\''s.wav'`,
		"":               "''",
		"$(reboot)":      "'$(reboot)'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecSSHArgs(t *testing.T) {
	e := NewExecSSH()
	fr := &fakeRunner{}
	e.run = fr.run

	if _, _, err := e.Run(context.Background(), "pi@hall", "aplay --help"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := strings.Join(fr.calls[0].args, " ")
	want := "-o ConnectTimeout=1 -o StrictHostKeyChecking=no -o BatchMode=yes pi@hall aplay --help"
	if fr.calls[0].name != "/usr/bin/ssh" || got != want {
		t.Fatalf("ssh call = %s %s", fr.calls[0].name, got)
	}
}

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		in, fallback, user, addr string
	}{
		{"pi@hall", "", "pi", "hall:22"},
		{"pi@hall:2222", "", "pi", "hall:2222"},
		{"hall", "bell", "bell", "hall:22"},
		{"pi@10.0.0.5", "bell", "pi", "10.0.0.5:22"},
	}
	for _, tc := range cases {
		u, addr := splitTarget(tc.in, tc.fallback)
		if u != tc.user || addr != tc.addr {
			t.Errorf("splitTarget(%q) = %q %q, want %q %q", tc.in, u, addr, tc.user, tc.addr)
		}
	}
}

func TestNewRemote(t *testing.T) {
	if r, err := NewRemote("exec", "", "", appLog.NewNop()); err != nil {
		t.Fatalf("exec: %v", err)
	} else if _, ok := r.(*ExecSSH); !ok {
		t.Fatalf("exec: got %T", r)
	}
	if r, err := NewRemote("native", "pi", "", appLog.NewNop()); err != nil {
		t.Fatalf("native: %v", err)
	} else if _, ok := r.(*NativeSSH); !ok {
		t.Fatalf("native: got %T", r)
	}
	if _, err := NewRemote("rsh", "", "", appLog.NewNop()); err == nil {
		t.Fatalf("expected error for unknown runner")
	}
}
