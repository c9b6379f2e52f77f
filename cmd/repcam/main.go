package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tailscale.com/tsnet"

	"github.com/claude/repcam/internal/capture"
	"github.com/claude/repcam/internal/capture/gstreamer"
	"github.com/claude/repcam/internal/config"
	"github.com/claude/repcam/internal/estimator"
	"github.com/claude/repcam/internal/journal"
	"github.com/claude/repcam/internal/loop"
	repmcp "github.com/claude/repcam/internal/mcp"
	"github.com/claude/repcam/internal/overlay"
	"github.com/claude/repcam/internal/overlay/mat"
	"github.com/claude/repcam/internal/server"
	"github.com/claude/repcam/internal/session"
	"github.com/claude/repcam/internal/storage"
	"github.com/claude/repcam/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	log.Info("repcam starting", "version", Version)

	ctx := context.Background()

	// Database is optional; without it every session is local.
	var db *storage.DB
	if cfg.Database.Enabled {
		dsn := cfg.Database.DSN()
		if err := storage.RunMigrations(dsn, "migrations"); err != nil {
			log.Error("migration failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")

		if *migrateOnly {
			log.Info("migrate-only: exiting")
			return
		}

		db, err = storage.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		log.Info("database connected")
	} else {
		if *migrateOnly {
			log.Error("migrate-only requires database.enabled")
			os.Exit(1)
		}
		log.Info("database disabled, sessions are local only")
	}

	// Local journal
	jrnl, err := journal.Open(cfg.Journal.Dir)
	if err != nil {
		log.Error("failed to open journal", "dir", cfg.Journal.Dir, "error", err)
		os.Exit(1)
	}
	defer jrnl.Close()

	var store session.Store
	if db != nil {
		store = db
	}
	recorder := session.NewRecorder(store, jrnl, log.With("component", "session"))

	// Live telemetry
	var publisher loop.Publisher
	if cfg.MQTT.Enabled {
		pub := telemetry.NewPublisher(telemetry.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, log.With("component", "mqtt"))
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := pub.Connect(connectCtx); err != nil {
			// Connect retries in the background.
			log.Warn("mqtt not connected yet", "error", err)
		}
		cancel()
		defer pub.Disconnect()
		publisher = pub
	}

	// Camera, model and overlay
	source := gstreamer.NewSource(gstreamer.Config{
		URI:               cfg.Camera.URI,
		UserDevice:        cfg.Camera.UserDevice,
		EnvironmentDevice: cfg.Camera.EnvironmentDevice,
		FirstFrameTimeout: cfg.Camera.FirstFrameTimeout,
	}, log.With("component", "capture"))

	backend := estimator.NewProcessBackend(estimator.ProcessConfig{
		Command:      cfg.Model.Command,
		Args:         cfg.Model.Args,
		Dir:          cfg.Model.Dir,
		LoadTimeout:  cfg.Model.LoadTimeout,
		InferTimeout: cfg.Model.InferTimeout,
	}, log.With("component", "worker"))
	poseEstimator := estimator.New(backend, estimator.Config{
		Model: estimator.ModelSpec{
			Model:     cfg.Model.Path,
			Device:    cfg.Model.Device,
			InputSize: cfg.Model.InputSize,
		},
		WarmupRuns:   cfg.Model.WarmupRuns,
		MinPoseScore: cfg.Model.MinPoseScore,
	}, log.With("component", "estimator"))

	snapshot := mat.NewSnapshot()
	presenters := []mat.Presenter{snapshot}
	if cfg.Overlay.Window {
		window := mat.NewWindow(cfg.Overlay.WindowTitle)
		defer window.Close()
		presenters = append(presenters, window)
	}
	output := mat.NewOutput(overlay.DefaultStyle(), presenters...)
	defer output.Close()

	captureLoop := loop.New(loop.Config{
		Constraints: capture.Constraints{
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
			Facing: capture.Facing(cfg.Camera.Facing),
			FPS:    cfg.Camera.FPS,
		},
		Margins: cfg.Detector.Margins,
	}, source, poseEstimator, output, recorder, publisher, log.With("component", "loop"))

	// Create server
	var history server.History
	var mcpHistory repmcp.History
	if db != nil {
		history = db
		mcpHistory = db
	}
	srv := server.New(captureLoop, history, cfg.Auth.APIKey, log)
	srv.SetJournal(jrnl)
	srv.SetSnapshot(snapshot)
	srv.SetMCP(repmcp.New(repmcp.NewLocal(mcpHistory, captureLoop.Status), Version, log.With("component", "mcp")))

	// Start server: tsnet or plain HTTP
	var listener net.Listener
	var tsServer *tsnet.Server

	if cfg.Tailscale.Enabled {
		tsServer = &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
			AuthKey:  cfg.Tailscale.AuthKey,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		srv.SetDevLogin(cfg.Auth.DevLogin)
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)", "dev_login", cfg.Auth.DevLogin)
	}

	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := captureLoop.Stop(shutdownCtx); err != nil {
		log.Error("capture loop stop error", "error", err)
	}
	log.Info("server stopped")
}
