package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ServiceName    = "inventory"
	ServiceVersion = "0.1.0"
)

const (
	exportTimeout = 30 * time.Second
	maxQueueSize  = 2048
)

// Shutdown flushes and stops whatever was set up
type Shutdown func(context.Context) error

func newResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
}

// SetupTracing installs a global tracer provider. With an empty
// endpoint spans are created but never exported.
func SetupTracing(ctx context.Context, endpoint string) (*sdktrace.TracerProvider, Shutdown, error) {
	res, err := newResource()

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}

	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)

		if err != nil {
			return nil, nil, fmt.Errorf("OTLP trace exporter: %w", err)
		}

		opts = append(opts, sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(exportTimeout),
			sdktrace.WithMaxQueueSize(maxQueueSize),
		)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp, tp.Shutdown, nil
}

// SetupLogging returns a nil provider when there's nowhere to send logs.
func SetupLogging(ctx context.Context, endpoint string) (*sdklog.LoggerProvider, Shutdown, error) {
	if endpoint == "" {
		return nil, func(context.Context) error { return nil }, nil
	}

	res, err := newResource()

	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(endpoint),
		otlploghttp.WithInsecure(),
	)

	if err != nil {
		return nil, nil, fmt.Errorf("OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(exportTimeout),
			sdklog.WithMaxQueueSize(maxQueueSize),
		)),
		sdklog.WithResource(res),
	)

	return lp, lp.Shutdown, nil
}

// NewLogger writes JSON to stdout, or console text at debug level,
// and also feeds lp when it isn't nil.
func NewLogger(debug bool, lp *sdklog.LoggerProvider) *zap.Logger {
	var (
		enc   zapcore.Encoder
		level = zap.InfoLevel
	)

	if debug {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zap.DebugLevel
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)

	if lp != nil {
		core = zapcore.NewTee(otelzap.NewCore(ServiceName, otelzap.WithLoggerProvider(lp)), core)
	}

	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", ServiceName)),
	)
}

// Join runs every shutdown in order and collects the errors.
func Join(fns ...Shutdown) Shutdown {
	return func(ctx context.Context) error {
		var err error

		for _, fn := range fns {
			if fn != nil {
				err = errors.Join(err, fn(ctx))
			}
		}

		return err
	}
}
