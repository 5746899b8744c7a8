package filo

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	defaultChunkSize    = 4096
	defaultStreamBuffer = 64
	defaultDialTimeout  = 30 * time.Second
)

type config struct {
	logHandler   slog.Handler
	msink        metrics.MetricSink
	metricLabels []metrics.Label
	chunkSize    int
	streamBuffer int
	dialTimeout  time.Duration
}

// Option to pass to `NewServer` and `NewClient`.
type Option func(*config) error

func defaultConfig() config {
	return config{
		chunkSize:    defaultChunkSize,
		streamBuffer: defaultStreamBuffer,
		dialTimeout:  defaultDialTimeout,
	}
}

// WithLogHandler specifies which `slog.Handler` to use.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to chose how to collect the emitted
// metrics.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all emitted metrics.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithChunkSize controls the size of the fixed buffer each receive
// loop reads into. Larger chunks mean fewer reads under bursty
// traffic at the price of more standing memory per connection.
func WithChunkSize(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("chunk size must be positive, got %d", size)
		}
		c.chunkSize = size
		return nil
	}
}

// WithStreamBuffer controls how many pending values each message or
// event subscription holds before new ones are dropped for that
// subscriber.
func WithStreamBuffer(size int) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("stream buffer must be positive, got %d", size)
		}
		c.streamBuffer = size
		return nil
	}
}

// WithDialTimeout controls how much time a `Client` is willing to
// wait for a remote listener to accept its connection.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = defaultDialTimeout
		}
		c.dialTimeout = timeout
		return nil
	}
}
