package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultOTLPEndpoint is the OTLP/HTTP collector used when only
// OTEL_TRACES_EXPORTER asks for export.
const DefaultOTLPEndpoint = "localhost:4318"

// OTELConfig selects where frame spans go. It reads the standard OTEL_*
// variables, not the FRAME_RELAY_ ones.
type OTELConfig struct {
	ServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"frame-relay"`
	ResourceAttributes string `env:"OTEL_RESOURCE_ATTRIBUTES"`
	ExporterEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracesEndpoint     string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	TracesExporter     string `env:"OTEL_TRACES_EXPORTER"`
}

// ParseOTELConfig reads the exporter settings from the environment.
func ParseOTELConfig() (*OTELConfig, error) {
	var cfg OTELConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	return &cfg, nil
}

// Enabled reports whether frame spans are exported. The relay runs with a
// no-op tracer unless an endpoint is set, and OTEL_TRACES_EXPORTER=none wins
// over any endpoint.
func (c *OTELConfig) Enabled() bool {
	switch c.TracesExporter {
	case "none":
		return false
	case "otlp":
		return true
	}
	return c.TracesEndpoint != "" || c.ExporterEndpoint != ""
}

// Endpoint returns the collector for frame spans. The traces-specific
// variable wins over the generic one.
func (c *OTELConfig) Endpoint() string {
	for _, ep := range []string{c.TracesEndpoint, c.ExporterEndpoint} {
		if ep != "" {
			return ep
		}
	}
	return DefaultOTLPEndpoint
}

// ResourceKeyValues turns "site=lab,camera=cam0" into resource attributes
// describing the capture host. Pairs without a key are ignored.
func (c *OTELConfig) ResourceKeyValues() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, pair := range strings.Split(c.ResourceAttributes, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		attrs = append(attrs, attribute.String(key, strings.TrimSpace(value)))
	}
	return attrs
}
