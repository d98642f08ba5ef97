package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pi-signage/internal/auth"
	"pi-signage/internal/config"
	"pi-signage/internal/journal"
	"pi-signage/internal/library"
	"pi-signage/internal/logging"
	"pi-signage/internal/network"
	"pi-signage/internal/orchestrator"
	"pi-signage/internal/playback"
	"pi-signage/internal/player"
	"pi-signage/internal/schedule"
	"pi-signage/internal/server"
	"pi-signage/internal/servertime"
	"pi-signage/internal/storage"
	"pi-signage/internal/syncer"
)

func main() {
	logger := logging.New(logging.Config{Level: config.LogLevel()})
	mainLog := logging.WithComponent(logger, "main")
	if err := run(logger, mainLog); err != nil {
		mainLog.Fatal().Err(err).Msg("pi-signage exited")
	}
	mainLog.Info().Msg("shutdown complete")
}

func run(logger, mainLog zerolog.Logger) error {
	serverURL, err := config.ServerURL()
	if err != nil {
		return err
	}
	downloadURL, err := config.DownloadURL()
	if err != nil {
		return err
	}

	mediaDir, err := config.ResolveMediaDir()
	if err != nil {
		return err
	}
	cacheFile, err := config.ResolveCacheFile()
	if err != nil {
		return err
	}
	splash, _, err := config.SplashFile()
	if err != nil {
		return err
	}

	statusAddr := config.StatusAddr()
	if statusAddr != "" {
		if err := config.ValidateListenAddr(statusAddr); err != nil {
			return err
		}
	}

	journalFile, _, err := config.ResolveJournalFile()
	if err != nil {
		return err
	}
	events, err := journal.Open(journalFile, config.JournalLimit(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			mainLog.Error().Err(err).Msg("close journal")
		}
	}()

	playerSettings, err := config.ResolvePlayer()
	if err != nil {
		return err
	}
	playerCfg, err := player.Detect(player.Config{Command: playerSettings.Command, Args: playerSettings.Args})
	if err != nil {
		return err
	}
	proc := player.New(playerCfg, logger)
	controller := playback.NewController(proc, logger)
	defer func() {
		if err := controller.Close(); err != nil {
			mainLog.Error().Err(err).Msg("close playback")
		}
		if err := proc.Close(); err != nil {
			mainLog.Error().Err(err).Msg("close player")
		}
	}()

	mac, err := network.HardwareAddr()
	if err != nil {
		mainLog.Warn().Err(err).Msg("hardware address unavailable")
	}
	client := network.NewClient(serverURL, downloadURL, config.RequestTimeout(), logger)
	poller := network.NewPoller(client, network.PollerConfig{
		Interval:   config.PollInterval(),
		MACAddress: mac,
	}, logger)

	probe, err := storage.NewProbe(mediaDir)
	if err != nil {
		return err
	}
	store := schedule.NewStore(cacheFile, logger)
	engine := syncer.NewEngine(store, client, probe, syncer.Config{
		MediaDir:     mediaDir,
		MinFreeBytes: config.MinFreeBytes(),
	}, logger)
	oracle := servertime.NewOracle(logger)

	orch := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Oracle:   oracle,
		Syncer:   engine,
		Poller:   poller,
		Playback: controller,
		Journal:  events,
	}, orchestrator.Config{
		MediaDir:          mediaDir,
		SplashFile:        splash,
		StartupRetries:    config.StartupRetries(),
		RetryDelay:        time.Second,
		EvaluateInterval:  config.EvaluateInterval(),
		SyncRetryInterval: config.SyncRetryInterval(),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return orch.Run(ctx)
	})
	group.Go(func() error {
		togglePauseOnSignal(ctx, controller, mainLog)
		return nil
	})

	if statusAddr != "" {
		httpServer, closeStatus, err := newStatusServer(statusAddr, mediaDir, server.Deps{
			Playback: controller,
			Schedule: store,
			Journal:  events,
			Poller:   poller,
			Clock:    oracle,
			Aired:    proc,
			MediaDir: mediaDir,
		}, logger)
		if err != nil {
			stop()
			_ = group.Wait()
			return err
		}
		defer closeStatus()

		group.Go(func() error {
			mainLog.Info().Str("addr", statusAddr).Str("media_dir", mediaDir).Msg("status api listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLog.Error().Err(err).Msg("graceful shutdown error")
			}
			return nil
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// togglePauseOnSignal freezes or resumes the current file on SIGUSR1.
func togglePauseOnSignal(ctx context.Context, controller *playback.Controller, logger zerolog.Logger) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			if err := controller.Pause(); err != nil {
				logger.Warn().Err(err).Msg("toggle pause")
				continue
			}
			logger.Info().Str("file", controller.CurrentMedia()).Msg("pause toggled")
		}
	}
}

// newStatusServer builds the status API with its media library watcher and,
// when configured, the token store guarding it.
func newStatusServer(addr, mediaDir string, deps server.Deps, logger zerolog.Logger) (*http.Server, func(), error) {
	debounce := config.RefreshDebounce()

	lib, err := library.New(mediaDir, config.AllowedExtensions(), debounce, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []func() error{lib.Close}
	deps.Media = lib

	tokenFile, tokensEnabled, err := config.ResolveTokenFile()
	if err != nil {
		_ = lib.Close()
		return nil, nil, err
	}
	if tokensEnabled {
		tokens, err := auth.NewTokenStore(tokenFile, debounce, logger)
		if err != nil {
			_ = lib.Close()
			return nil, nil, err
		}
		closers = append(closers, tokens.Close)
		deps.Tokens = tokens
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(deps, logger),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	closeAll := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				mainLog := logging.WithComponent(logger, "main")
				mainLog.Error().Err(err).Msg("close status dependency")
			}
		}
	}
	return httpServer, closeAll, nil
}
