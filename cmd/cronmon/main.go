package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cronmon/internal/config"
	"cronmon/internal/monitor"
	"cronmon/internal/notify"
	"cronmon/internal/storage"
	logx "cronmon/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cm := config.NewManager(cfgPath)
	cfg, err := cm.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	defer logSvc.Close()
	cm.SetLogger(log)

	st, err := storage.Open(storageConfig(cfg.Storage), log)
	if err != nil {
		log.Error("storage open failed", logx.Err(err))
		os.Exit(1)
	}
	defer st.Close()

	mon := monitor.New(monitorConfig(cfg.Monitor), st, log)
	mon.Start(ctx)

	var alerts *notify.Service
	if cfg.Notify != nil && cfg.Notify.Enabled {
		alerts = notify.New(notifyConfig(*cfg.Notify), mon, log)
		if err := alerts.Start(ctx); err != nil {
			log.Error("notify start failed", logx.Err(err))
		}
	}

	// Config edits apply live to logging and the monitor defaults.
	updates := cm.Subscribe(1)
	go func() {
		for next := range updates {
			logSvc.Apply(logxConfig(next.Logging))
			mon.Apply(monitorConfig(next.Monitor))
		}
	}()
	go func() { _ = cm.Watch(ctx) }()

	// Raise systemd readiness once the initial bulk load completes.
	go func() {
		select {
		case <-mon.Ready():
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		case <-ctx.Done():
		}
	}()

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	mon.Stop(stopCtx)
	if alerts != nil {
		alerts.Stop(stopCtx)
	}
	cm.Unsubscribe(updates)
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	// Validated at load time; a parse error here cannot happen.
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}
}

func monitorConfig(c config.MonitorConfig) monitor.Config {
	return monitor.Config{
		PollInterval: c.PollIntervalOrDefault(),
		GracePeriod:  c.GracePeriodOrDefault(),
		Timeout:      c.TimeoutOrDefault(),
	}
}

func notifyConfig(c config.NotifyConfig) notify.Config {
	return notify.Config{
		Enabled:    c.Enabled,
		Token:      c.Token,
		ChatID:     c.ChatID,
		RatePerSec: c.RatePerSec,
	}
}
