package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"emberfall/internal/config"
	"emberfall/internal/game"
	"emberfall/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg.Server.LogLevel)
	log.Info().Int("port", cfg.Server.Port).Int("max_players", cfg.Server.MaxPlayers).Msg("starting emberfall server")

	audit := game.NewAuditLog()
	if err := audit.Start(cfg.EventLogPath); err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer audit.Stop()

	mask := game.NewBorderMask(
		cfg.Simulation.WorldWidth/cfg.Simulation.TileSize,
		cfg.Simulation.WorldHeight/cfg.Simulation.TileSize,
		float64(cfg.Simulation.TileSize),
		cfg.Simulation.WorldSeed,
		0.04,
	)

	engine := game.NewEngine(cfg, log, mask, audit)
	engine.SetTickObserver(server.ObserveTick)

	hub := server.NewHub(cfg, log, engine)
	limiter := server.NewIPRateLimiter(server.DefaultRateLimitConfig)
	defer limiter.Stop()

	stop := make(chan struct{})
	defer close(stop)
	server.StartDebugServer(cfg.Server.DebugAddr, engine, log)
	server.StartGaugeLoop(engine, stop)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("simulation loop exited")
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(hub, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket writes manage their own deadlines
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}

	hub.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
