// Package telemetry は slog・トレース・メトリクスの初期化を行います。
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const instrumentationName = "eartheater"

type Config struct {
	ServiceName string
	// Endpoint が空なら OTLP へは送らず標準エラーへテキストログを出します。
	// エクスポーターは OTEL_EXPORTER_OTLP_* 環境変数から接続先を読みます。
	Endpoint string
	LogLevel slog.Level
}

// ShutdownFunc はプロバイダをフラッシュして停止します。
type ShutdownFunc func(ctx context.Context) error

// Setup は既定の slog ロガーと OpenTelemetry のプロバイダを設定します。
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))
		return func(context.Context) error { return nil }, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	traceExporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logExporter, err := otlploggrpc.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(lp))))

	metricExporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		_ = errors.Join(tp.Shutdown(ctx), lp.Shutdown(ctx))
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), lp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// ParseLevel は LOG_LEVEL の値を slog.Level に変換します。
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// TickRecorder は tick の処理時間をヒストグラムに記録し、budget を超えた tick をログに残します。
type TickRecorder struct {
	duration metric.Float64Histogram
	budget   time.Duration
}

// NewTickRecorder は mp のメーターで記録します。mp が nil ならグローバルのプロバイダを使います。
func NewTickRecorder(mp metric.MeterProvider, budget time.Duration) (*TickRecorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	h, err := mp.Meter(instrumentationName).Float64Histogram(
		"engine.tick.duration",
		metric.WithDescription("simulation tick processing time"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &TickRecorder{duration: h, budget: budget}, nil
}

func (r *TickRecorder) RecordTick(ctx context.Context, frame uint64, d time.Duration) {
	r.duration.Record(ctx, float64(d)/float64(time.Millisecond))
	if r.budget > 0 && d > r.budget {
		slog.WarnContext(ctx, "tick exceeded budget", "frame", frame, "duration", d, "budget", r.budget)
	}
}
