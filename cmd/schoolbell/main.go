package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"text/template"
	"time"

	"github.com/spf13/pflag"

	"schoolbell/internal/bell"
	"schoolbell/internal/buzzer"
	"schoolbell/internal/config"
	"schoolbell/internal/holiday"
	"schoolbell/internal/ics"
	appLog "schoolbell/internal/log"
	"schoolbell/internal/player"
	"schoolbell/internal/ring"
	"schoolbell/internal/schedule"
	"schoolbell/internal/trigger"
	"schoolbell/internal/web"
)

const prog = "schoolbell"

var version = "0.1.0-dev"

//go:embed demo/demo.json demo/demo.service
var demoFiles embed.FS

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath  string
	buzz        int
	buzzSet     bool
	play        string
	test        bool
	debug       bool
	listen      string
	demoConfig  bool
	demoService bool
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		appLog.Error("invalid arguments", err)
		os.Exit(2)
	}

	switch {
	case flags.showVersion:
		fmt.Println(version)
		return
	case flags.demoConfig:
		if err := printDemoConfig(os.Stdout); err != nil {
			appLog.Error("failed to print demo config", err)
			os.Exit(1)
		}
		return
	case flags.demoService:
		if err := printDemoService(os.Stdout); err != nil {
			appLog.Error("failed to print demo service", err)
			os.Exit(1)
		}
		return
	}

	if err := run(flags); err != nil {
		appLog.Error(prog+" stopped", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (flagConfig, error) {
	var cfg flagConfig

	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Scheduled ringing of the school bell.\n\nUsage: %s [flags] CONFIG\n\nCONFIG is a JSON/YAML file or an inline JSON document.\n\n", prog)
		fs.PrintDefaults()
	}

	fs.IntVarP(&cfg.buzz, "buzz", "b", 0, "Buzz via the GPIO pin while the bell plays")
	fs.Lookup("buzz").NoOptDefVal = strconv.Itoa(buzzer.DefaultPin)
	fs.StringVarP(&cfg.play, "play", "p", "", "Play the bell with this key and exit")
	fs.BoolVar(&cfg.test, "test", false, "Play one second samples of each bell at startup")
	fs.BoolVar(&cfg.debug, "debug", false, "Make the operation a lot more talkative")
	fs.StringVar(&cfg.listen, "listen", "", "Status API listen address (overrides config if set)")
	fs.BoolVar(&cfg.demoConfig, "demo-config", false, "Print the demo configuration and exit")
	fs.BoolVar(&cfg.demoService, "demo-service", false, "Print the demo systemd service for the current user and exit")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	cfg.buzzSet = fs.Changed("buzz")

	if cfg.showVersion || cfg.demoConfig || cfg.demoService {
		return cfg, nil
	}
	switch fs.NArg() {
	case 1:
		cfg.configPath = fs.Arg(0)
	case 0:
		return cfg, errors.New("a configuration file or JSON document is required")
	default:
		return cfg, fmt.Errorf("unexpected argument: %s", fs.Arg(1))
	}
	return cfg, nil
}

func printDemoConfig(w io.Writer) error {
	data, err := demoFiles.ReadFile("demo/demo.json")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// serviceVars fill the demo systemd unit.
type serviceVars struct {
	Bin    string
	Config string
	Home   string
	User   string
	Group  string
}

func printDemoService(w io.Writer) error {
	vars := serviceVars{Bin: prog, Home: os.Getenv("HOME")}
	if exe, err := os.Executable(); err == nil {
		vars.Bin = exe
	}
	if u, err := user.Current(); err == nil {
		vars.User, vars.Group = u.Username, u.Username
		if g, err := user.LookupGroupId(u.Gid); err == nil {
			vars.Group = g.Name
		}
		if vars.Home == "" {
			vars.Home = u.HomeDir
		}
	}
	vars.Config = filepath.Join(vars.Home, "school-bell.json")
	return renderDemoService(w, vars)
}

func renderDemoService(w io.Writer, vars serviceVars) error {
	tmpl, err := template.ParseFS(demoFiles, "demo/demo.service")
	if err != nil {
		return err
	}
	return tmpl.Execute(w, vars)
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(conf, flags)

	logger := appLog.New(appLog.LevelFor(conf.Debug))
	appLog.SetDefault(logger)
	defer logger.Sync()

	logger.Info(prog+" starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		return err
	}

	logger.Info("effective config",
		"root", conf.Root,
		"device", conf.Device,
		"bells", len(conf.Wav),
		"days", len(conf.Schedule),
		"triggers", len(conf.Trigger),
		"holidays", conf.Holidays,
		"holiday_calendars", len(conf.HolidayCalendars),
		"timezone", loc.String(),
		"buzzer", conf.Buzzer,
		"ssh", conf.SSH,
		"listen", conf.Listen,
		"test", conf.Test,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	remote, err := player.NewRemote(conf.SSH, conf.SSHUser, conf.SSHKey, logger)
	if err != nil {
		return err
	}
	pl, err := player.New(conf.RemotePlayer, remote, logger)
	if err != nil {
		return err
	}

	catalog := bell.NewCatalog(bell.Options{Root: conf.Root, Device: conf.Device, Test: conf.Test}, pl, logger)
	if err := catalog.RegisterAll(ctx, conf.Wav); err != nil {
		return err
	}

	bz := openBuzzer(conf.Buzzer, logger)

	oracle := newOracle(conf, loc, logger)
	registry := trigger.NewRegistry(pl, logger)

	dispatcher := ring.NewDispatcher(ring.Deps{
		Catalog:  catalog,
		Player:   pl,
		Targets:  registry,
		Holidays: oracle,
		Buzzer:   bz,
	}, ring.Options{
		Region:   conf.Holidays,
		Device:   conf.Device,
		Location: loc,
	}, logger)

	if flags.play != "" {
		return dispatcher.Play(ctx, flags.play)
	}

	table, err := schedule.NewTable(conf.Schedule, catalog)
	if err != nil {
		return err
	}

	if n := registry.RegisterAll(ctx, conf.Trigger); n < len(conf.Trigger) {
		logger.Warn("some trigger hosts were dropped", "kept", n, "configured", len(conf.Trigger))
	}

	if err := oracle.Start(ctx); err != nil {
		return err
	}
	defer oracle.Stop()

	if conf.Listen != "" {
		srv := web.NewServer(web.Deps{
			Table:    table,
			Ringer:   dispatcher,
			History:  dispatcher.History(),
			Holidays: oracle,
			Targets:  registry,
		}, web.Options{
			Listen:    conf.Listen,
			Region:    conf.Holidays,
			Location:  loc,
			BasicAuth: conf.BasicAuth,
		}, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("HTTP server stopped", err, "listen", conf.Listen)
			}
		}()
	}

	scheduler := schedule.NewScheduler(table, dispatcher, schedule.SystemClock{}, schedule.Options{
		Interval: conf.PollInterval(),
		Location: loc,
	}, logger)
	if err := scheduler.Run(ctx); err != nil {
		return err
	}

	// Let an in-flight HTTP shutdown finish logging.
	time.Sleep(100 * time.Millisecond)
	logger.Info(prog + " exiting")
	return nil
}

// applyFlags lets CLI flags override the configuration document.
func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.test {
		conf.Test = true
	}
	if flags.debug {
		conf.Debug = true
	}
	if flags.buzzSet {
		conf.Buzzer = flags.buzz
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
}

// openBuzzer returns nil when the buzzer is disabled or unavailable.
func openBuzzer(pin int, logger *appLog.Logger) buzzer.Buzzer {
	bz, err := buzzer.Open(pin)
	if err != nil {
		logger.Warn("buzzer disabled", "pin", pin, "err", err)
		return nil
	}
	if bz != nil {
		logger.Info("buzzer enabled", "pin", pin)
	}
	return bz
}

func newOracle(conf *config.Config, loc *time.Location, logger *appLog.Logger) *holiday.Oracle {
	opts := holiday.Options{
		Region:     conf.Holidays,
		Location:   loc,
		WindowDays: conf.HolidayWindowDays,
		Timeout:    conf.RequestTimeout(),
		Refresh:    conf.HolidayRefresh,
	}
	if conf.Holidays != "" {
		opts.Regional = []holiday.Source{holiday.NewOpenHolidays(holiday.DefaultBaseURL, conf.RequestTimeout())}
	}

	sources := make([]ics.Source, 0, len(conf.HolidayCalendars))
	for _, c := range conf.HolidayCalendars {
		if c.URL == "" {
			continue
		}
		id := c.ID
		if id == "" {
			if c.Name != "" {
				id = c.Name
			} else {
				id = c.URL
			}
		}
		sources = append(sources, ics.Source{ID: id, URL: c.URL})
	}
	if len(sources) > 0 {
		fetcher := ics.NewFetcher(conf.HolidayCacheDir, conf.RequestTimeout(), logger)
		opts.Calendars = []holiday.Source{holiday.NewCalendar(sources, fetcher, logger)}
	}

	return holiday.NewOracle(opts, logger)
}
