package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eartheater/server"
	"eartheater/server/application"
	"eartheater/server/domain"
	"eartheater/server/handler"
	"eartheater/server/telemetry"
	"eartheater/utils"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, err := telemetry.ParseLevel(utils.GetEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return err
	}
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "eartheater",
		Endpoint:    utils.GetEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:    level,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown failed", "err", err)
		}
	}()

	addr := utils.GetEnvDefault("ADDR", "localhost")
	port := utils.GetEnvDefault("PORT", "9090")

	engineCfg, err := loadEngineConfig()
	if err != nil {
		return err
	}
	endpointCfg, err := loadEndpointConfig(engineCfg.TickHz)
	if err != nil {
		return err
	}
	codec, err := domain.NewCodec(utils.GetEnvDefault("CODEC", domain.CodecJSON))
	if err != nil {
		return err
	}
	recorder, err := telemetry.NewTickRecorder(otel.GetMeterProvider(), time.Second/time.Duration(engineCfg.TickHz))
	if err != nil {
		return fmt.Errorf("create tick recorder: %w", err)
	}

	// PubSub初期化
	pubsub := domain.NewSimplePubSub(256)

	lobbies := application.NewLobbyService(ctx, pubsub, codec, engineCfg, application.WithLobbyTickRecorder(recorder))
	defer lobbies.Close()

	accept := handler.NewAcceptHandler(pubsub, lobbies, codec, endpointCfg)
	s := server.NewServer(fmt.Sprintf("%s:%s", addr, port), server.Route(accept, lobbies))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, "server listening", "addr", s.Addr(), "codec", codec.Name(), "tickHz", engineCfg.TickHz)
		if err := s.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		slog.InfoContext(ctx, "shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "graceful shutdown failed", "err", err)
			if err := s.Close(); err != nil {
				slog.ErrorContext(ctx, "forced close failed", "err", err)
			}
		}
		return nil
	})

	err = eg.Wait()
	slog.InfoContext(ctx, "server shutdown complete")
	return err
}

func loadEngineConfig() (application.EngineConfig, error) {
	cfg := application.DefaultEngineConfig()
	var errs []error
	var err error

	cfg.TickHz, err = utils.GetEnvInt("TICK_HZ", cfg.TickHz)
	errs = append(errs, err)
	cfg.Seed, err = utils.GetEnvUint64("SEED", 0)
	errs = append(errs, err)
	cfg.IsSand, err = utils.GetEnvBool("SAND", false)
	errs = append(errs, err)
	cfg.Wind.X, err = utils.GetEnvFloat("WIND_X", cfg.Wind.X)
	errs = append(errs, err)
	cfg.Gravity.Y, err = utils.GetEnvFloat("GRAVITY_Y", cfg.Gravity.Y)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	if cfg.TickHz <= 0 {
		return cfg, fmt.Errorf("invalid TICK_HZ=%d: must be positive", cfg.TickHz)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("WIND_X/GRAVITY_Y: %w", err)
	}
	return cfg, nil
}

func loadEndpointConfig(tickHz int) (domain.EndpointConfig, error) {
	cfg := domain.DefaultEndpointConfig()
	cfg.TickHz = tickHz
	var err1, err2 error
	cfg.PingInterval, err1 = utils.GetEnvDuration("PING_INTERVAL", cfg.PingInterval)
	cfg.IdleTimeout, err2 = utils.GetEnvDuration("IDLE_TIMEOUT", cfg.IdleTimeout)
	return cfg, errors.Join(err1, err2)
}
