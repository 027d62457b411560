package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mymuse-io/adcopy-api/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the queue worker that drains the external broker.
	// It is only meaningful when the dispatcher runs in queued mode.
	ServiceModeWorker ServiceMode = "worker"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, worker)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains job dispatcher configuration.
type DispatcherConfig struct {
	// Mode selects the execution strategy: inline (background pool in this
	// process) or queued (hand off to the external broker). Fixed at startup.
	Mode model.ExecutionMode `env:"EXEC_MODE" envDefault:"inline"`

	// Workers is the number of inline worker goroutines.
	Workers int `env:"DISPATCH_WORKERS" envDefault:"4"`

	// QueueDepth is the capacity of the inline work channel. A full channel
	// makes Submit run the job synchronously rather than drop it.
	QueueDepth int `env:"DISPATCH_QUEUE_DEPTH" envDefault:"64"`

	// ExecTimeout bounds a single pipeline execution. On expiry the job is
	// finished as failed; it never stays in processing.
	ExecTimeout time.Duration `env:"DISPATCH_EXEC_TIMEOUT" envDefault:"5m"`

	// QueueName is the broker list key used in queued mode.
	QueueName string `env:"DISPATCH_QUEUE_NAME" envDefault:"adcopy:jobs"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	if !d.Mode.Valid() {
		d.Mode = model.ExecutionModeInline
	}
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.QueueDepth < 1 {
		d.QueueDepth = 1
	}
	if d.ExecTimeout < time.Second {
		d.ExecTimeout = time.Second
	}
	if strings.TrimSpace(d.QueueName) == "" {
		d.QueueName = "adcopy:jobs"
	}
}

// PipelineConfig contains pipeline executor configuration.
type PipelineConfig struct {
	// Endpoint is the base URL of the pipeline worker service.
	Endpoint string `env:"PIPELINE_ENDPOINT" envDefault:"http://localhost:9090"`

	// Timeout bounds a single HTTP call to the pipeline worker.
	Timeout time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to pipeline configuration values.
func (p *PipelineConfig) Sanitize() {
	if p.Timeout < time.Second {
		p.Timeout = time.Second
	}
}
