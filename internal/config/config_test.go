package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const demoJSON = `{
  "schedule": {"Wed": {"08:30": "0", "10:30": "1"}},
  "wav": {"0": "a.wav", "1": "b.wav"},
  "root": "$BELL_TEST_ROOT/samples",
  "trigger": {"pi@speaker": "/home/pi/samples"},
  "holidays": "NL-BE",
  "timeout": 5
}`

func TestParseInlineJSON(t *testing.T) {
	t.Setenv("BELL_TEST_ROOT", "/srv/bell")

	cfg, err := Load(demoJSON)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Schedule["Wed"]["08:30"]; got != "0" {
		t.Fatalf("schedule Wed 08:30 = %q, want %q", got, "0")
	}
	if cfg.Root != "/srv/bell/samples" {
		t.Fatalf("root = %q, want env-expanded path", cfg.Root)
	}
	if cfg.Trigger["pi@speaker"] != "/home/pi/samples" {
		t.Fatalf("trigger not decoded: %v", cfg.Trigger)
	}
	if cfg.RequestTimeout() != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", cfg.RequestTimeout())
	}
	// Defaults.
	if cfg.HolidayRefresh != DefaultHolidayRefresh {
		t.Fatalf("holiday refresh = %q", cfg.HolidayRefresh)
	}
	if cfg.PollInterval() != 200*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.SSH != "exec" || cfg.RemotePlayer != "aplay" {
		t.Fatalf("unexpected ssh defaults: %q %q", cfg.SSH, cfg.RemotePlayer)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bell.yaml")
	doc := "schedule:\n  Mon:\n    \"08:00\": start\nwav:\n  start: start.wav\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Wav["start"] != "start.wav" {
		t.Fatalf("wav = %v", cfg.Wav)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Fatalf("timeout default = %d", cfg.Timeout)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"missing file":  "/nonexistent/school-bell.json",
		"bad json":      `{"schedule": `,
		"no schedule":   `{"wav": {"a": "a.wav"}}`,
		"no wav":        `{"schedule": {}}`,
		"schedule type": `{"schedule": ["Mon"], "wav": {}}`,
		"bad region":    `{"schedule": {}, "wav": {}, "holidays": "BE"}`,
		"negative pin":  `{"schedule": {}, "wav": {}, "buzzer": -1}`,
		"trailing dash": `{"schedule": {}, "wav": {}, "holidays": "NL-"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(in)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestNormalizeUnknownSSH(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SSH = "telnet"
	cfg.Normalize()
	if cfg.SSH != DefaultSSH {
		t.Fatalf("ssh = %q, want fallback %q", cfg.SSH, DefaultSSH)
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	if loc, err := cfg.Location(); err != nil || loc != time.Local {
		t.Fatalf("empty timezone = %v, %v", loc, err)
	}

	cfg.Timezone = "UTC"
	if loc, err := cfg.Location(); err != nil || loc.String() != "UTC" {
		t.Fatalf("UTC = %v, %v", loc, err)
	}

	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := cfg.Location(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("unknown zone error = %v", err)
	}
}
