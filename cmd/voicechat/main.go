package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceChat/internal/adapters/backend"
	router "github.com/dkeye/VoiceChat/internal/adapters/http"
	"github.com/dkeye/VoiceChat/internal/adapters/media"
	"github.com/dkeye/VoiceChat/internal/adapters/rtc"
	ctlsignal "github.com/dkeye/VoiceChat/internal/adapters/signal"
	"github.com/dkeye/VoiceChat/internal/app/hub"
	"github.com/dkeye/VoiceChat/internal/app/session"
	"github.com/dkeye/VoiceChat/internal/config"
	"github.com/dkeye/VoiceChat/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	devs := media.NewDevices(deviceSpecs(cfg.Client.PipeDevices), false)

	playback, closePlayback := openPlayback(cfg.Client.Playback)
	defer closePlayback()
	peers, err := rtc.NewFactory(rtc.Config{ICEServers: cfg.Client.ICEServers, Playback: playback})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc setup failed")
	}

	be := backend.New(cfg.Client.BackendURL, 15*time.Second)
	h := hub.New(hub.SimplePolicy{})
	watcher := media.NewWatcher(devs, cfg.Client.DevicePoll)

	ctrl := session.NewController(cfg.Client.Session(), session.Deps{
		Media:     devs,
		Peers:     peers,
		Issuer:    be,
		Signaller: ctlsignal.NewSDPExchange(cfg.Client.RealtimeURL, 15*time.Second),
		Prompts:   be,
		Listener:  h,
		Events:    []core.EventSource{h, watcher},
		Budget:    cfg.Client.SessionBudget,
	})
	if _, err := ctrl.RefreshDevices(ctx); err != nil {
		log.Warn().Err(err).Msg("initial device enumeration failed")
	}

	ctl := ctlsignal.NewControlWSController(ctrl, h)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.PingPeriod = cfg.PingPeriod

	srv := &http.Server{
		Addr:    cfg.Client.ControlAddr,
		Handler: router.SetupControlRouter(ctx, cfg, ctl),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("backend", cfg.Client.BackendURL).Msg("VoiceChat client started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		watcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		h.RunMeter(gctx, ctrl, cfg.Client.MeterPeriod)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		// behaves like a page unload: teardown without waiting on the backend
		ctrl.Unload()
		ctrl.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("client stopped with error")
		return
	}
	log.Info().Msg("Client exited gracefully")
}

func deviceSpecs(pipes map[string]string) []media.DeviceSpec {
	specs := media.DefaultDevices()
	ids := make([]string, 0, len(pipes))
	for id := range pipes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		specs = append(specs, media.DeviceSpec{ID: id, Label: id, Kind: media.KindPipe, Path: pipes[id]})
	}
	return specs
}

func openPlayback(path string) (io.Writer, func()) {
	if path == "" {
		return nil, func() {}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("playback disabled")
		return nil, func() {}
	}
	return f, func() { _ = f.Close() }
}
