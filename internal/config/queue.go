package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

// Queue holds the run-loop and job store settings.
type Queue struct {
	SleepTime      time.Duration `env:"QUEUE_SLEEP_TIME,default=10s" yaml:"sleep_time" validate:"gt=0"`
	ExitWhenIdle   bool          `env:"QUEUE_EXIT_WHEN_IDLE,default=false" yaml:"exit_when_idle"`
	MaxRuntime     time.Duration `env:"QUEUE_MAX_RUNTIME,default=0s" yaml:"max_runtime" validate:"gte=0"`
	WorkerTimeout  time.Duration `env:"QUEUE_WORKER_TIMEOUT,default=120s" yaml:"worker_timeout" validate:"gt=0"`
	DefaultTimeout time.Duration `env:"QUEUE_DEFAULT_TIMEOUT,default=10m" yaml:"default_timeout" validate:"gt=0"`
	DefaultRetries int           `env:"QUEUE_DEFAULT_RETRIES,default=4" yaml:"default_retries" validate:"gte=1,lte=100"`
	GCProbability  int           `env:"QUEUE_GC_PROBABILITY,default=10" yaml:"gc_probability" validate:"gte=0,lte=100"`
	CleanupTimeout time.Duration `env:"QUEUE_CLEANUP_TIMEOUT,default=720h" yaml:"cleanup_timeout" validate:"gte=0"`
	PIDFilePath    string        `env:"QUEUE_PIDFILE_PATH" yaml:"pidfile_path,omitempty"`
	BackoffInitial time.Duration `env:"QUEUE_BACKOFF_INITIAL,default=30s" yaml:"backoff_initial" validate:"gt=0"`
	BackoffMax     time.Duration `env:"QUEUE_BACKOFF_MAX,default=1h" yaml:"backoff_max" validate:"gtefield=BackoffInitial"`
	WorkerID       string        `env:"QUEUE_WORKER_ID" yaml:"worker_id,omitempty" validate:"omitempty,max=64"`
	Log            bool          `env:"QUEUE_LOG,default=false" yaml:"log"`
	MetricsAddr    string        `env:"QUEUE_METRICS_ADDR" yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// SMTP configures the Email task.
type SMTP struct {
	Host     string `env:"SMTP_HOST,default=localhost" validate:"required"`
	Port     int    `env:"SMTP_PORT,default=1025" validate:"gte=1,lte=65535"`
	From     string `env:"SMTP_FROM,default=queue@localhost" validate:"required,email"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	TLS      bool   `env:"SMTP_TLS,default=false"`
}

// to help with testing
var envProcess = envconfig.Process

var validate = validator.New()

// DefaultQueue returns the settings used when nothing is configured.
func DefaultQueue() Queue {
	return Queue{
		SleepTime:      10 * time.Second,
		WorkerTimeout:  120 * time.Second,
		DefaultTimeout: 10 * time.Minute,
		DefaultRetries: 4,
		GCProbability:  10,
		CleanupTimeout: 30 * 24 * time.Hour,
		BackoffInitial: 30 * time.Second,
		BackoffMax:     time.Hour,
	}
}

// LoadQueueFromEnv reads QUEUE_* variables.
func LoadQueueFromEnv(ctx context.Context) (*Queue, error) {
	var cfg Queue
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadSMTPFromEnv reads SMTP_* variables.
func LoadSMTPFromEnv(ctx context.Context) (*SMTP, error) {
	var cfg SMTP
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := validateStruct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field ranges and joins every violation into one error.
func (q *Queue) Validate() error {
	return validateStruct(q)
}

// UsesPIDFiles reports whether the legacy pid-file registry is configured.
func (q *Queue) UsesPIDFiles() bool {
	return strings.TrimSpace(q.PIDFilePath) != ""
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Field(), e.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
