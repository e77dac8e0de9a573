package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config contains the telemetry configuration for the launch driver.
type Config struct {
	// ServiceName identifies the driver in traces and metrics.
	ServiceName string `yaml:"service_name" validate:"required"`

	ServiceVersion string `yaml:"service_version" validate:"required"`

	// Environment is recorded as deployment.environment on spans.
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path. Files are appended to.
	Output string `yaml:"output"`

	EnableCaller bool `yaml:"enable_caller"`

	// EnableSampling thins debug and info messages to SamplingInitial per
	// second, then every SamplingThereafter-th message.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" validate:"required_if=EnableSampling true,gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" validate:"required_if=EnableSampling true,gte=0"`

	// TimeFormat is rfc3339, unix, unixms or unixmicro.
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms unixmicro"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout or none. Only checked when tracing is enabled.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" validate:"gte=0"`
	Headers            map[string]string `yaml:"headers"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"`
	Path          string `yaml:"path" validate:"omitempty,startswith=/"`
	Namespace     string `yaml:"namespace"`

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets" validate:"dive,gt=0"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`

	// BufferSize bounds the queue of undelivered events in async mode.
	BufferSize int `yaml:"buffer_size" validate:"required_if=Enabled true,omitempty,gt=0"`

	// EnableAsync delivers events from a background goroutine. Synchronous
	// delivery calls subscribers before Publish returns.
	EnableAsync bool `yaml:"enable_async"`
}

// DefaultConfig returns a default telemetry configuration: console logs on
// stderr, asynchronous events, and no tracing or metrics endpoint.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "launchpad",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "launchpad",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
			},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  1000,
			EnableAsync: true,
		},
	}
}

// fieldLabels names config fields in validation messages.
var fieldLabels = map[string]string{
	"Config.ServiceName":                "service name",
	"Config.ServiceVersion":             "service version",
	"Config.Logging.Level":              "log level",
	"Config.Logging.Format":             "log format",
	"Config.Logging.TimeFormat":         "log time format",
	"Config.Tracing.SamplingRate":       "trace sampling rate",
	"Config.Metrics.ListenAddress":      "metrics listen address",
	"Config.Metrics.Path":               "metrics path",
	"Config.Events.BufferSize":          "event buffer size",
	"Config.Logging.SamplingInitial":    "log sampling burst",
	"Config.Logging.SamplingThereafter": "log sampling rate",
}

// Validate checks the configuration and reports the first invalid field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return err
		}
		fe := verrs[0]
		label, ok := fieldLabels[fe.Namespace()]
		if !ok {
			label = strings.ToLower(fe.Field())
		}
		if strings.HasPrefix(fe.Tag(), "required") {
			return fmt.Errorf("%s is required", label)
		}
		return fmt.Errorf("invalid %s: %v", label, fe.Value())
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "stdout", "none":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("trace endpoint is required for the otlp exporter")
			}
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}
	return nil
}
