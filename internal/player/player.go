// Package player runs the audio playback command locally and, through a
// remote shell, on trigger hosts. Decoding and mixing are left to the
// platform player (aplay on linux, afplay on darwin).
package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	appLog "schoolbell/internal/log"
)

// ErrUnsupportedPlatform is returned by New on platforms without a known
// playback command.
var ErrUnsupportedPlatform = errors.New("player: no playback command for this platform")

// Command describes the platform playback binary.
type Command struct {
	// Path of the player binary.
	Path string
	// TestArgs limit playback to about one second.
	TestArgs []string
	// DeviceFlag selects an output device; empty if unsupported.
	DeviceFlag string
}

// PlatformCommand returns the playback command for goos.
func PlatformCommand(goos string) (Command, error) {
	switch goos {
	case "linux":
		return Command{Path: "/usr/bin/aplay", TestArgs: []string{"-d", "1"}, DeviceFlag: "-D"}, nil
	case "darwin":
		return Command{Path: "/usr/bin/afplay", TestArgs: []string{"-t", "1"}}, nil
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, goos)
	}
}

// PlayOptions tune a local play.
type PlayOptions struct {
	// Device is the output device hint, ignored where unsupported.
	Device string
	// Test plays only a short sample of the clip.
	Test bool
}

// RemoteOptions tune a remote play.
type RemoteOptions struct {
	// Test runs the remote player in the foreground and waits for it.
	Test bool
	// Timeout bounds the whole remote call. Zero means DefaultRemoteTimeout.
	Timeout time.Duration
}

// DefaultRemoteTimeout bounds a backgrounded remote dispatch.
const DefaultRemoteTimeout = 10 * time.Second

// Remote runs a shell command line on a host.
type Remote interface {
	Run(ctx context.Context, host, command string) (stdout, stderr []byte, err error)
}

// runFunc executes a local command and returns its captured output.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Player is the Sound Player Adapter.
type Player struct {
	cmd          Command
	remotePlayer string
	remote       Remote
	run          runFunc
	log          *appLog.Logger
}

// New builds a Player for the running platform. remote may be nil when no
// trigger hosts are configured.
func New(remotePlayer string, remote Remote, logger *appLog.Logger) (*Player, error) {
	cmd, err := PlatformCommand(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	return NewWithCommand(cmd, remotePlayer, remote, logger), nil
}

// NewWithCommand builds a Player around an explicit command.
func NewWithCommand(cmd Command, remotePlayer string, remote Remote, logger *appLog.Logger) *Player {
	if remotePlayer == "" {
		remotePlayer = "aplay"
	}
	return &Player{
		cmd:          cmd,
		remotePlayer: remotePlayer,
		remote:       remote,
		run:          execRun,
		log:          logger,
	}
}

// Command returns the local playback command.
func (p *Player) Command() Command {
	return p.cmd
}

// Args returns the argument list for playing clip with opts.
func (p *Player) Args(clip string, opts PlayOptions) []string {
	args := make([]string, 0, 5)
	if opts.Test {
		args = append(args, p.cmd.TestArgs...)
	}
	if opts.Device != "" && p.cmd.DeviceFlag != "" {
		args = append(args, p.cmd.DeviceFlag, opts.Device)
	}
	return append(args, clip)
}

// Play plays clip on the local output and blocks until the player exits.
// A non-zero exit is returned as an error and its stderr is logged.
func (p *Player) Play(ctx context.Context, clip string, opts PlayOptions) error {
	args := p.Args(clip, opts)
	p.log.Debug("play", "cmd", p.cmd.Path+" "+strings.Join(args, " "))

	stdout, stderr, err := p.run(ctx, p.cmd.Path, args...)
	if len(stdout) > 0 {
		p.log.Debug("play output", "stdout", strings.TrimSpace(string(stdout)))
	}
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		p.log.Error("play failed", err, "clip", clip, "stderr", msg)
		return fmt.Errorf("play %s: %w", clip, err)
	}
	return nil
}

// PlayRemote asks host to play clip, a path on the remote filesystem.
// Outside test mode the remote player is backgrounded and success means
// the command was dispatched, not that playback completed.
func (p *Player) PlayRemote(ctx context.Context, host, clip string, opts RemoteOptions) error {
	if p.remote == nil {
		return errors.New("player: no remote runner configured")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	line := p.remotePlayer + " " + shellQuote(clip)
	if !opts.Test {
		line = "nohup " + line + " >/dev/null 2>&1 &"
	}
	return p.runRemote(ctx, host, line)
}

// Probe checks that host accepts a remote shell and has the remote player
// installed, by asking the player for its help text.
func (p *Player) Probe(ctx context.Context, host string) error {
	if p.remote == nil {
		return errors.New("player: no remote runner configured")
	}
	return p.runRemote(ctx, host, p.remotePlayer+" --help")
}

func (p *Player) runRemote(ctx context.Context, host, line string) error {
	p.log.Debug("remote", "host", host, "cmd", line)

	stdout, stderr, err := p.remote.Run(ctx, host, line)
	if len(stdout) > 0 {
		p.log.Debug("remote output", "host", host, "stdout", strings.TrimSpace(string(stdout)))
	}
	if err != nil {
		p.log.Error("remote command failed", err, "host", host, "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("remote %s: %w", host, err)
	}
	return nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, name, args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// shellQuote quotes s for a POSIX shell.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:@%+=,", r)
}
