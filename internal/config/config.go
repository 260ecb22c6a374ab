package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors. They are fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// ICSConfig describes a single ICS holiday calendar subscription.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration. The document is
// usually JSON; YAML is accepted as well since the decoder is yaml.v3.
type Config struct {
	// Schedule maps a day abbreviation (Mon..Sun) to time-of-day -> bell key.
	Schedule map[string]map[string]string `yaml:"schedule" json:"schedule"`

	// Wav maps a bell key to an audio file path relative to Root.
	Wav map[string]string `yaml:"wav" json:"wav"`

	// Root is the base directory for Wav paths. Environment variables are
	// expanded.
	Root string `yaml:"root" json:"root"`

	// Device is the ALSA output device hint (linux only).
	Device string `yaml:"device" json:"device"`

	// Trigger maps a remote host to the root directory of its copy of the
	// audio files.
	Trigger map[string]string `yaml:"trigger" json:"trigger"`

	// Holidays is the OpenHolidays subdivision code (LANG-COUNTRY, e.g.
	// "NL-BE"). Empty disables holiday suppression unless HolidayCalendars
	// is set.
	Holidays string `yaml:"holidays" json:"holidays"`

	// HolidayCalendars are ICS feeds whose events mark holidays.
	HolidayCalendars []ICSConfig `yaml:"holiday_calendars" json:"holiday_calendars"`

	// HolidayRefresh is the cron expression of the proactive holiday
	// refresh. Defaults to local midnight.
	HolidayRefresh string `yaml:"holiday_refresh" json:"holiday_refresh"`

	// HolidayWindowDays is how far ahead a holiday lookup fetches.
	HolidayWindowDays int `yaml:"holiday_window_days" json:"holiday_window_days"`

	// HolidayCacheDir stores ICS bodies for offline fallback.
	HolidayCacheDir string `yaml:"holiday_cache_dir" json:"holiday_cache_dir"`

	// Timeout is the holiday request timeout in seconds.
	Timeout int `yaml:"timeout" json:"timeout"`

	// Timezone is the IANA zone used to evaluate the schedule. Empty means
	// the host's local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// PollIntervalMs is the scheduler poll interval in milliseconds.
	PollIntervalMs int `yaml:"poll_interval" json:"poll_interval"`

	// Buzzer is the BCM GPIO pin of the buzzer; 0 disables it.
	Buzzer int `yaml:"buzzer" json:"buzzer"`

	// RemotePlayer is the playback command run on trigger hosts.
	RemotePlayer string `yaml:"remote_player" json:"remote_player"`

	// SSH selects the remote runner: "exec" (system ssh) or "native".
	SSH string `yaml:"ssh" json:"ssh"`
	// SSHUser and SSHKey configure the native runner.
	SSHUser string `yaml:"ssh_user" json:"ssh_user"`
	SSHKey  string `yaml:"ssh_key" json:"ssh_key"`

	// Listen is the status API address; empty disables the API.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, protects all API endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Test  bool `yaml:"test" json:"test"`
	Debug bool `yaml:"debug" json:"debug"`
}

const (
	DefaultTimeout           = 10
	DefaultHolidayRefresh    = "0 0 * * *"
	DefaultHolidayWindowDays = 180
	DefaultPollIntervalMs    = 200
	DefaultRemotePlayer      = "aplay"
	DefaultSSH               = "exec"
	DefaultHolidayCacheDir   = "./var/holiday-cache"
)

// DefaultConfig returns an in-memory default configuration with an empty
// schedule.
func DefaultConfig() *Config {
	return &Config{
		Schedule:          map[string]map[string]string{},
		Wav:               map[string]string{},
		Trigger:           map[string]string{},
		HolidayCalendars:  []ICSConfig{},
		HolidayRefresh:    DefaultHolidayRefresh,
		HolidayWindowDays: DefaultHolidayWindowDays,
		HolidayCacheDir:   DefaultHolidayCacheDir,
		Timeout:           DefaultTimeout,
		PollIntervalMs:    DefaultPollIntervalMs,
		RemotePlayer:      DefaultRemotePlayer,
		SSH:               DefaultSSH,
	}
}

// Normalize fills in missing/zero values with defaults. It does not touch
// the required keys; Validate reports those.
func (c *Config) Normalize() {
	if c.Trigger == nil {
		c.Trigger = map[string]string{}
	}
	if c.HolidayCalendars == nil {
		c.HolidayCalendars = []ICSConfig{}
	}
	if c.HolidayRefresh == "" {
		c.HolidayRefresh = DefaultHolidayRefresh
	}
	if c.HolidayWindowDays <= 0 {
		c.HolidayWindowDays = DefaultHolidayWindowDays
	}
	if c.HolidayCacheDir == "" {
		c.HolidayCacheDir = DefaultHolidayCacheDir
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.RemotePlayer == "" {
		c.RemotePlayer = DefaultRemotePlayer
	}
	switch c.SSH {
	case "exec", "native":
	default:
		c.SSH = DefaultSSH
	}
	c.Root = os.ExpandEnv(c.Root)
	c.SSHKey = os.ExpandEnv(c.SSHKey)
	c.HolidayCacheDir = os.ExpandEnv(c.HolidayCacheDir)
	c.Holidays = strings.TrimSpace(c.Holidays)
}

// Validate checks the presence of the required dictionaries. Syntax of
// days, times and bell keys is validated by the schedule and bell
// packages when the table is built.
func (c *Config) Validate() error {
	if c.Schedule == nil {
		return fmt.Errorf("%w: config should contain the dictionary 'schedule'", ErrInvalid)
	}
	if c.Wav == nil {
		return fmt.Errorf("%w: config should contain the dictionary 'wav'", ErrInvalid)
	}
	if c.Holidays != "" {
		if i := strings.Index(c.Holidays, "-"); i <= 0 || i == len(c.Holidays)-1 {
			return fmt.Errorf("%w: holidays %q should look like LANG-COUNTRY (e.g. NL-BE)", ErrInvalid, c.Holidays)
		}
	}
	if c.Buzzer < 0 {
		return fmt.Errorf("%w: buzzer pin %d is negative", ErrInvalid, c.Buzzer)
	}
	return nil
}

// RequestTimeout returns Timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Location resolves Timezone. An empty zone is the host's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// PollInterval returns PollIntervalMs as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Load reads the configuration from a file path or, when the argument is
// not an existing file, parses it as an inline document.
//
// Behavior:
//   - "$HOME/school-bell.json" style paths are expanded
//   - a path-looking argument that does not exist is an error
//   - the decoded config is normalized and validated
func Load(pathOrDoc string) (*Config, error) {
	if strings.TrimSpace(pathOrDoc) == "" {
		return nil, fmt.Errorf("%w: config path is empty", ErrInvalid)
	}

	data, err := os.ReadFile(os.ExpandEnv(pathOrDoc))
	if err != nil {
		if !looksInline(pathOrDoc) {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: configuration should be a JSON string or file: %v", ErrInvalid, err)
			}
			return nil, err
		}
		data = []byte(pathOrDoc)
	}

	return Parse(data)
}

// Parse decodes a JSON or YAML document into a normalized, validated
// Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func looksInline(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") || strings.Contains(s, "\n")
}
