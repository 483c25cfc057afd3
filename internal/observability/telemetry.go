package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/regionkeeper/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName - имя трассировщика сервиса регионов
const TracerName = "github.com/annel0/regionkeeper"

const shutdownTimeout = 5 * time.Second

// TelemetryOptions - параметры экспорта трасс
type TelemetryOptions struct {
	ServiceName string
	Endpoint    string  // host:port OTLP/HTTP; пусто - переменные OTEL_EXPORTER_OTLP_*
	Insecure    bool    // без TLS
	SampleRatio float64 // доля корневых спанов; 0 или больше 1 - все
}

func (o TelemetryOptions) sampler() sdktrace.Sampler {
	if o.SampleRatio <= 0 || o.SampleRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.SampleRatio))
}

// newProvider собирает провайдер трасс поверх произвольного экспортёра
func newProvider(ctx context.Context, opts TelemetryOptions, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("ресурс телеметрии: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(opts.sampler()),
	), nil
}

// InitTelemetry устанавливает глобальный TracerProvider с OTLP/HTTP экспортом.
// Возвращённую функцию нужно вызвать при остановке, чтобы отправить накопленные спаны.
func InitTelemetry(ctx context.Context, opts TelemetryOptions) (func(context.Context) error, error) {
	var clientOpts []otlptracehttp.Option
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("экспортёр OTLP: %w", err)
	}

	tp, err := newProvider(ctx, opts, exp)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry: service=%s endpoint=%q", opts.ServiceName, opts.Endpoint)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer возвращает трассировщик глобального провайдера; без InitTelemetry спаны не пишутся
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
