package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/VoiceChat/internal/adapters/http"
	"github.com/dkeye/VoiceChat/internal/adapters/openai"
	"github.com/dkeye/VoiceChat/internal/app/gate"
	"github.com/dkeye/VoiceChat/internal/config"
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
	if cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY is not set, upstream calls will be rejected")
	}

	g := gate.New(cfg.MaxSessions, cfg.LeaseTTL)
	defer g.Close()

	backend := &router.Backend{
		Gate:     g,
		Sessions: openai.NewRealtime(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Timeout),
		Prompts:  openai.NewPromptGenerator(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.PromptModel),
		Limiter:  router.NewTokenRateLimiter(cfg.TokenRate.Limit, cfg.TokenRate.Interval),
	}
	go pruneLimiter(ctx, backend.Limiter, cfg.TokenRate.Interval)

	r := router.SetupRouter(cfg, backend)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("max_sessions", cfg.MaxSessions).Msg("VoiceChat backend started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func pruneLimiter(ctx context.Context, rl *router.TokenRateLimiter, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := rl.Prune(); n > 0 {
				log.Debug().Int("clients", n).Msg("rate limiter pruned")
			}
		}
	}
}
