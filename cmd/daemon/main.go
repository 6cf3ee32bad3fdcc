// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/podmirror/internal/api"
	"github.com/ManuGH/podmirror/internal/config"
	"github.com/ManuGH/podmirror/internal/feed"
	"github.com/ManuGH/podmirror/internal/fetcher"
	"github.com/ManuGH/podmirror/internal/fsutil"
	"github.com/ManuGH/podmirror/internal/gate"
	"github.com/ManuGH/podmirror/internal/ident"
	pmlog "github.com/ManuGH/podmirror/internal/log"
	"github.com/ManuGH/podmirror/internal/metrics"
	"github.com/ManuGH/podmirror/internal/pipeline"
	"github.com/ManuGH/podmirror/internal/queue"
	"github.com/ManuGH/podmirror/internal/refresh"
	"github.com/ManuGH/podmirror/internal/retention"
	"github.com/ManuGH/podmirror/internal/store"
	"github.com/ManuGH/podmirror/internal/transcode"
	"github.com/ManuGH/podmirror/internal/version"
	"github.com/ManuGH/podmirror/internal/worker"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Explicit --config wins; otherwise pick up ${PODMIRROR_DATA}/config.yaml
	// when it exists.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		dataDir := config.ParseString("PODMIRROR_DATA", "/data")
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectivePath = autoPath
		}
	}

	cfg, err := config.NewLoader(effectivePath).Load()
	if err != nil {
		base := pmlog.Base()
		base.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	pmlog.Configure(pmlog.Config{
		Level:   cfg.LogLevel,
		Version: version.Version,
	})
	logger := pmlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("server exiting")
}

func run(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	feedDir := filepath.Join(cfg.DataDir, "feeds")
	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir, cfg.TempDir, feedDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("prepare %s: %w", dir, err)
		}
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "podmirror.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	g, err := gate.New(cfg.MaxConcurrentDownloads)
	if err != nil {
		return fmt.Errorf("create gate: %w", err)
	}

	clock := ident.System()
	session := metrics.NewSession(clock.Now())

	fetch := fetcher.NewYtDlp(cfg.FetcherBin, pmlog.WithComponent("fetcher"))
	tc := transcode.NewFFmpeg(cfg.FFmpegBin, cfg.FFprobeBin, transcode.Options{
		AudioFormat:     cfg.AudioFormat,
		AudioBitrate:    cfg.AudioBitrate,
		AudioSampleRate: cfg.AudioSampleRate,
		AudioChannels:   cfg.AudioChannels,
		VideoFormat:     cfg.VideoFormat,
		VideoCodec:      cfg.VideoCodec,
		VideoQuality:    cfg.VideoQuality,
		Threads:         cfg.Threads,
	}, pmlog.WithComponent("transcode"))

	q := queue.NewService(st, clock, cfg.MaxAttempts, pmlog.WithComponent("queue"))
	// One source request per second across all channels keeps refresh sweeps
	// polite to the upstream site.
	ref := refresh.NewService(st, fetch, q, rate.NewLimiter(rate.Every(time.Second), 1), pmlog.WithComponent("refresh"))
	ret := retention.NewService(st, pmlog.WithComponent("retention"))
	pub := feed.NewPublisher(st, feed.Config{
		BaseURL:     cfg.PublicBaseURL,
		DownloadDir: cfg.DownloadDir,
		FeedDir:     feedDir,
	}, clock, pmlog.WithComponent("feed"))

	pl := pipeline.New(st, fetch, tc, g, clock, pipeline.Config{
		DownloadDir: cfg.DownloadDir,
		TempDir:     cfg.TempDir,
		AudioFormat: cfg.AudioFormat,
		VideoFormat: cfg.VideoFormat,
	}, pmlog.WithComponent("pipeline"))

	refreshWorker := worker.NewRefreshWorker(ref, ret, pub, cfg.RefreshInterval, session, pmlog.WithComponent("worker"))
	downloadWorker := worker.NewDownloadWorker(st, q, pl, pub, ret, cfg.MaxConcurrentDownloads, cfg.PollInterval, session, pmlog.WithComponent("worker"))

	apiSrv := api.New(api.Config{
		AuthUser:    cfg.AuthUser,
		AuthPass:    cfg.AuthPass,
		FeedDir:     feedDir,
		DownloadDir: cfg.DownloadDir,
		Version:     version.Version,
	}, st, q, ref, refreshWorker, pub, g, session, pmlog.WithComponent("api"))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version.Version).
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Int("download_slots", cfg.MaxConcurrentDownloads).
		Msg("starting podmirror")
	if cfg.AuthUser == "" {
		logger.Warn().
			Str("event", "daemon.auth_disabled").
			Msg("admin API runs without authentication; set PODMIRROR_AUTH_USER/PASS")
	}

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		refreshWorker.Run(grpCtx)
		return nil
	})
	grp.Go(func() error {
		downloadWorker.Run(grpCtx)
		return nil
	})

	grp.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		grp.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	grp.Go(func() error {
		<-grpCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()

		logger.Info().
			Str("event", "daemon.shutdown").
			Dur("grace", cfg.ShutdownGrace).
			Msg("shutting down")

		var firstErr error
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("metrics shutdown: %w", err)
			}
		}
		return firstErr
	})

	return grp.Wait()
}
