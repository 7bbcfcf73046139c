package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportNATS  Transport = "nats"
	TransportSQS   Transport = "sqs"
)

type EnvConfig struct {
	Transport Transport
	WorkerID  string

	NatsURL           string
	NatsSubjectPrefix string
	NatsCompress      bool

	SqsRegion           string
	SqsRequestQueueURL  string
	SqsResponseQueueURL string

	LogLevel  string
	LogFormat string

	FaultTick    time.Duration
	FlushTimeout time.Duration
	MetricsAddr  string
}

func DefaultEnvConfig() *EnvConfig {
	return &EnvConfig{
		Transport:         TransportStdio,
		WorkerID:          uuid.NewString(),
		NatsURL:           "nats://127.0.0.1:4222",
		NatsSubjectPrefix: "testworker",
		SqsRegion:         "eu-central-1",
		LogLevel:          "info",
		LogFormat:         "text",
		FaultTick:         10 * time.Millisecond,
		FlushTimeout:      5 * time.Second,
	}
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		err := godotenv.Load(p)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ReadEnvConfig reads the worker configuration from the environment,
// falling back to DefaultEnvConfig for unset variables.
func ReadEnvConfig() (*EnvConfig, error) {
	return readEnvConfig(os.LookupEnv)
}

func readEnvConfig(lookup func(string) (string, bool)) (*EnvConfig, error) {
	result := DefaultEnvConfig()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	var transport string
	str("WORKER_TRANSPORT", &transport)
	if transport != "" {
		result.Transport = Transport(transport)
	}
	str("WORKER_ID", &result.WorkerID)
	str("NATS_URL", &result.NatsURL)
	str("NATS_SUBJECT_PREFIX", &result.NatsSubjectPrefix)
	str("SQS_REGION", &result.SqsRegion)
	str("SQS_REQUEST_QUEUE_URL", &result.SqsRequestQueueURL)
	str("SQS_RESPONSE_QUEUE_URL", &result.SqsResponseQueueURL)
	str("LOG_LEVEL", &result.LogLevel)
	str("LOG_FORMAT", &result.LogFormat)
	str("METRICS_ADDR", &result.MetricsAddr)

	if v, ok := lookup("NATS_COMPRESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid NATS_COMPRESS %q: %w", v, err)
		}
		result.NatsCompress = b
	}

	durations := map[string]*time.Duration{
		"FAULT_TICK":    &result.FaultTick,
		"FLUSH_TIMEOUT": &result.FlushTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}

	return result, nil
}

func (c *EnvConfig) Validate() error {
	switch c.Transport {
	case TransportStdio:
	case TransportNATS:
		if c.NatsURL == "" || c.NatsSubjectPrefix == "" {
			return fmt.Errorf("nats transport requires NATS_URL and NATS_SUBJECT_PREFIX")
		}
	case TransportSQS:
		if c.SqsRequestQueueURL == "" || c.SqsResponseQueueURL == "" {
			return fmt.Errorf("sqs transport requires SQS_REQUEST_QUEUE_URL and SQS_RESPONSE_QUEUE_URL")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.WorkerID == "" {
		return fmt.Errorf("worker id must not be empty")
	}
	if c.FaultTick <= 0 {
		return fmt.Errorf("fault tick must be positive, got %s", c.FaultTick)
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush timeout must be positive, got %s", c.FlushTimeout)
	}
	return nil
}
