package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Resource attribute keys describing how this assistant is set up.
const (
	ResWakeKeywords = attribute.Key("valet.wake.keywords")
	ResSampleRate   = attribute.Key("valet.audio.sample_rate")
	ResFrameLength  = attribute.Key("valet.audio.frame_length")
	ResSTTProvider  = attribute.Key("valet.stt.provider")
	ResTTSProvider  = attribute.Key("valet.tts.provider")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "valet".
	ServiceName    string
	ServiceVersion string

	// Keywords are the configured wake phrases.
	Keywords []string

	// SampleRate and FrameLength describe the input device format.
	SampleRate  int
	FrameLength int

	// STTProvider and TTSProvider are the registry names of the active
	// providers, e.g. "whisper-native" and "coqui".
	STTProvider string
	TTSProvider string

	// TraceExporter is optional. Without it spans are recorded for
	// correlation IDs but never exported.
	TraceExporter sdktrace.SpanExporter

	// MetricReader replaces the Prometheus reader. Used by tests.
	MetricReader sdkmetric.Reader
}

// Resource builds the OTel resource for cfg.
func (cfg ProviderConfig) Resource() (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "valet"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if len(cfg.Keywords) > 0 {
		attrs = append(attrs, ResWakeKeywords.StringSlice(cfg.Keywords))
	}
	if cfg.SampleRate > 0 {
		attrs = append(attrs, ResSampleRate.Int(cfg.SampleRate))
	}
	if cfg.FrameLength > 0 {
		attrs = append(attrs, ResFrameLength.Int(cfg.FrameLength))
	}
	if cfg.STTProvider != "" {
		attrs = append(attrs, ResSTTProvider.String(cfg.STTProvider))
	}
	if cfg.TTSProvider != "" {
		attrs = append(attrs, ResTTSProvider.String(cfg.TTSProvider))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider registers global meter and tracer providers for cfg. Metrics
// go to a Prometheus reader served on /metrics unless cfg.MetricReader is
// set. The returned function flushes and shuts both down.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource()
	if err != nil {
		return nil, err
	}

	reader := cfg.MetricReader
	if reader == nil {
		promExp, err := promexporter.New()
		if err != nil {
			return nil, err
		}
		reader = promExp
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
