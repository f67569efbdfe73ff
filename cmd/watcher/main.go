// Command watcher is the hibernate process entrypoint: it loads the YAML
// configuration, drives the reconciliation loop against the controller, and
// exposes the small HTTP surface described in spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftywatch/hibernate/internal/api"
	"github.com/craftywatch/hibernate/internal/controller"
	"github.com/craftywatch/hibernate/internal/monitor"
	"github.com/craftywatch/hibernate/internal/notify"
	"github.com/craftywatch/hibernate/pkg/config"
	"github.com/craftywatch/hibernate/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the watcher's YAML configuration")
	debug := flag.Bool("debug", false, "run gin in debug mode and emit text-formatted logs")
	flag.Parse()

	logLevel := logger.INFO
	if *debug {
		logLevel = logger.DEBUG
	}
	logger.SetDefault(logger.NewLogger(logLevel, os.Stdout, !*debug))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", err, map[string]interface{}{"path": *configPath})
	}
	logger.Info("configuration loaded", map[string]interface{}{
		"path":           *configPath,
		"servers":        len(cfg.Servers),
		"controller_url": cfg.ControllerBaseURL,
	})

	cl := controller.New(cfg.ControllerBaseURL, cfg.ControllerToken, cfg.ControllerReqTimeout)
	webhook := notify.NewWebhook(cfg.WebhookURL, "hibernate")
	history := notify.NewHistory(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket)
	defer history.Close()

	mon := monitor.New(cl, webhook, history, cfg.PollInterval)
	mon.LoadDescriptors(cfg.Servers, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	go mon.Run(ctx)

	dashboard := api.NewDashboardWebSocket(mon)
	go dashboard.Run()

	router := api.SetupRouter(
		api.NewHealthHandler(),
		api.NewStatusHandler(mon),
		api.NewMetricsHandler(),
		dashboard,
		*debug,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HealthPort),
		Handler: router,
	}

	go func() {
		logger.Info("http server starting", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", err, nil)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			reloaded, err := config.Load(*configPath)
			if err != nil {
				logger.Error("reload failed, keeping previous configuration", err, map[string]interface{}{"path": *configPath})
				continue
			}
			cfg = reloaded
			mon.Reload(cfg.Servers)
			logger.Info("configuration reloaded", map[string]interface{}{"servers": len(cfg.Servers)})
			continue
		}

		logger.Info("shutting down", map[string]interface{}{"signal": sig.String()})
		break
	}

	mon.Stop()
	dashboard.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", err, nil)
	}

	logger.Info("shutdown complete", nil)
}
