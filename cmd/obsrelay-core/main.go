// obsrelay-core is the recording-session orchestrator daemon: it drives one
// OBS instance over its websocket, archives recorded files into dated
// session folders, and exposes the command protocol on a persistent control
// channel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signlab/obsrelay/internal/api"
	"github.com/signlab/obsrelay/internal/archive"
	"github.com/signlab/obsrelay/internal/bufferwatch"
	"github.com/signlab/obsrelay/internal/config"
	"github.com/signlab/obsrelay/internal/control"
	"github.com/signlab/obsrelay/internal/discovery"
	"github.com/signlab/obsrelay/internal/health"
	"github.com/signlab/obsrelay/internal/log"
	"github.com/signlab/obsrelay/internal/metrics"
	"github.com/signlab/obsrelay/internal/obsws"
	"github.com/signlab/obsrelay/internal/pidfile"
	"github.com/signlab/obsrelay/internal/recorder"
	"github.com/signlab/obsrelay/internal/session"
	"github.com/signlab/obsrelay/internal/transfer"
	"github.com/signlab/obsrelay/internal/upload"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

// defaultLabel names the session resolved at startup, before any SetName.
const defaultLabel = "Recording"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("obsrelay-core", Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "obsrelay-core"})
	logger := log.WithComponent("core")
	logger.Info().Str("version", Version).Int("pid", os.Getpid()).Msg("starting obsrelay-core")

	pf, err := pidfile.Acquire(pidfile.DefaultPath("obsrelay-core"))
	if err != nil {
		return err
	}
	defer func() {
		if err := pf.Release(); err != nil {
			logger.Warn().Err(err).Msg("pid file not released")
		}
	}()

	met := metrics.New()

	// Recorder backend.
	obsClient := obsws.NewClient(cfg.OBSURL(), cfg.OBS.Password, log.WithComponent("obsws"))
	rec := recorder.NewOBSAdapter(obsClient)

	// Archiver with the configured retry policy. Root creation approval
	// stands in for the upstream confirmation popup.
	confirm := archive.ConfirmerFunc(func(title, question string) bool {
		logger.Warn().Str("question", question).Bool("approved", cfg.AutoCreateRoot).Msg("root folder confirmation")
		return cfg.AutoCreateRoot
	})
	archiver := archive.New(log.WithComponent("archive"), confirm)
	archiver.MaxRetries = cfg.Archive.MaxRetries
	archiver.RetryDelay = cfg.Archive.RetryDelay()

	var uploader session.Uploader
	if cfg.Upload.Endpoint != "" {
		uploader = upload.New(upload.Config{}, log.WithComponent("upload"))
	}

	checker := health.NewChecker(health.NewFFmpegExtractor(), log.WithComponent("health"))

	ctrl := session.New(rec, archiver, uploader, checker, met, transfer.Send, session.Options{
		DefaultRoot: cfg.Paths.SaveFolder,
		SettleDelay: cfg.Archive.SettleDelay(),
	}, log.WithComponent("session"))

	// Connect to the backend before serving commands, like the upstream
	// system: a dead backend at startup is a configuration problem.
	if err := ctrl.Connect(); err != nil {
		return fmt.Errorf("OBS not reachable, check the connection and try again: %w", err)
	}

	if err := ctrl.SetBufferFolder(cfg.Paths.BufferFolder); err != nil {
		return err
	}
	if _, err := ctrl.SetSaveLocation(cfg.Paths.SaveFolder, defaultLabel); err != nil {
		return err
	}

	// Control channel.
	ctlServer := control.NewServer(control.NewHandler(ctrl, log.WithComponent("control")), log.WithComponent("control"))
	if err := ctlServer.Listen(cfg.ControlAddr()); err != nil {
		return err
	}

	// mDNS advertisement of the control endpoint.
	var adv *discovery.Advertiser
	if cfg.Discovery.Enabled {
		adv, err = discovery.Advertise(cfg.Discovery.Instance, cfg.Control.Port, log.WithComponent("discovery"))
		if err != nil {
			logger.Warn().Err(err).Msg("mdns advertisement unavailable")
		}
	}
	defer adv.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctlServer.Serve()
	})

	// Buffer folder observation.
	watcher, err := bufferwatch.New(cfg.Paths.BufferFolder, log.WithComponent("bufferwatch"))
	if err != nil {
		logger.Warn().Err(err).Msg("buffer watch unavailable")
	} else {
		watcher.OnDeposit = func(string) { met.BufferDeposits.Inc() }
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	// Ops endpoint (healthz, metrics, upload trigger).
	if cfg.OpsListen != "" {
		uploadHeaders := map[string]string{}
		if cfg.Upload.Token != "" {
			uploadHeaders["Authorization"] = "Bearer " + cfg.Upload.Token
		}
		opsServer := api.New(api.Config{
			Addr:           cfg.OpsListen,
			UploadEndpoint: cfg.Upload.Endpoint,
			UploadFields:   cfg.Upload.Fields,
			UploadHeaders:  uploadHeaders,
		}, ctrl, met.Registry, log.WithComponent("api"))
		g.Go(func() error {
			return opsServer.ListenAndServe()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return opsServer.Shutdown(shutdownCtx)
		})
	}

	// Wind down on signal or after a Kill command.
	g.Go(func() error {
		select {
		case <-ctx.Done():
			ctrl.Disconnect()
		case <-ctlServer.Killed():
			logger.Info().Msg("kill command received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ctlServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("obsrelay-core stopped")
	return err
}
