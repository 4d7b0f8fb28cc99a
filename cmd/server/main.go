package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Chatter/internal/adapters/http"
	wssignal "github.com/dkeye/Chatter/internal/adapters/signal"
	"github.com/dkeye/Chatter/internal/app"
	"github.com/dkeye/Chatter/internal/auth"
	"github.com/dkeye/Chatter/internal/config"
	"github.com/dkeye/Chatter/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	verifier, err := auth.NewJWTVerifier(cfg.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init verifier")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	presence := app.NewPresenceTable(m)
	rooms := app.NewRoomRegistry()
	conns := app.NewConnRegistry()
	calls := app.NewCallRelay(presence, conns, m)
	policy := app.NewRatePolicy(cfg.MessageRate, cfg.MessageWindow)
	evrouter := app.NewEventRouter(presence, rooms, conns, calls, policy, m)

	ctl := wssignal.NewSignalWSController(evrouter, presence, rooms, conns, verifier, m, cfg)

	r := router.SetupRouter(ctx, cfg, ctl, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Chatter relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
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
