package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ttagenda/internal/capture"
	"ttagenda/internal/config"
	"ttagenda/internal/live"
	appLog "ttagenda/internal/log"
	"ttagenda/internal/notify"
	"ttagenda/internal/schedule"
	"ttagenda/internal/store"
	"ttagenda/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath  string
	envPath     string
	listen      string
	seedPath    string
	captureOnce bool
}

func main() {
	appLog.Info("ttagenda starting", "version", "0.1.0")

	flags := parseFlags()

	// Env file first so TTAGENDA_* variables in it take part in ApplyEnv.
	if err := config.LoadEnvFile(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "env_path", flags.envPath)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI flags override config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.seedPath != "" {
		conf.Store.Seed = flags.seedPath
	}

	level, err := appLog.ParseLevel(conf.Log.Level)
	if err != nil {
		appLog.Warn("unknown log level, using info", "level", conf.Log.Level)
		level = appLog.LevelInfo
	}
	logCloser := appLog.Configure(level, appLog.FileOptions{
		Path:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
		MaxAgeDays: conf.Log.MaxAgeDays,
		Compress:   conf.Log.Compress,
	})
	defer logCloser.Close()

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err)
		os.Exit(1)
	}
	kinds, err := conf.Kinds()
	if err != nil {
		appLog.Error("invalid activity kinds", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"store", conf.Store.Driver,
		"positions", len(conf.Positions),
		"activity_kinds", len(kinds),
		"capture", conf.Capture.Enabled,
		"ws_token", conf.WSToken != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	captureOpts := capture.Options{
		URL:        conf.Capture.URL,
		OutputPath: conf.Capture.Output,
		Width:      conf.Capture.Width,
		Height:     conf.Capture.Height,
	}
	if flags.captureOnce {
		// Captures an already running instance at capture.url.
		if err := capture.BoardPNG(ctx, captureOpts); err != nil {
			appLog.Error("capture failed", err, "url", captureOpts.URL)
			os.Exit(1)
		}
		appLog.Info("capture written", "output", captureOpts.OutputPath)
		return
	}

	st, err := openStore(conf.Store)
	if err != nil {
		appLog.Error("failed to open store", err, "driver", conf.Store.Driver, "path", conf.Store.Path)
		os.Exit(1)
	}
	defer st.Close()

	if conf.Store.Seed != "" {
		seed, err := store.LoadSeed(conf.Store.Seed)
		if err != nil {
			appLog.Error("failed to load seed", err, "seed", conf.Store.Seed)
			os.Exit(1)
		}
		if err := seed.Apply(ctx, st); err != nil {
			appLog.Error("failed to apply seed", err, "seed", conf.Store.Seed)
			os.Exit(1)
		}
		appLog.Info("seed applied", "seed", conf.Store.Seed)
	}

	composer := schedule.NewComposer(st,
		schedule.WithKinds(kinds),
		schedule.WithPositions(conf.Positions),
	)
	resolver := live.NewResolver(composer, loc)

	hub := notify.NewHub(notify.NewTodaySource(composer, loc, time.Now), notify.Options{
		Spec:        conf.RefreshCron,
		SendTimeout: conf.SendTimeout(),
	})
	if err := hub.Start(ctx); err != nil {
		appLog.Error("failed to start live hub", err)
		os.Exit(1)
	}
	defer hub.Stop()

	var captureStatus web.CaptureStatus
	if conf.Capture.Enabled {
		job := capture.NewJob(conf.Capture.Refresh, captureOpts, nil)
		if err := job.Start(ctx); err != nil {
			appLog.Error("failed to schedule capture", err)
			os.Exit(1)
		}
		defer job.Stop()
		captureStatus = job
	}

	srv := web.NewServer(web.Deps{
		Config:   conf,
		Store:    st,
		Composer: composer,
		Resolver: resolver,
		Hub:      hub,
		Capture:  captureStatus,
		Location: loc,
	})
	if err := srv.Run(ctx, conf.Listen); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	appLog.Info("ttagenda exiting")
}

func openStore(sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite", "":
		return store.OpenSQLite(sc.Path)
	default:
		return nil, errors.New("unknown store driver " + sc.Driver)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ttagenda/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Optional KEY=VALUE file loaded before the environment is applied")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.seedPath, "seed", "", "YAML seed applied to the store on start (overrides config if set)")
	flag.BoolVar(&cfg.captureOnce, "capture-once", false, "Capture the board of a running instance once and exit")

	flag.Parse()

	return cfg
}
