package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Default publish loop values.
const (
	DefaultNumMessages = 100
	DefaultInterval    = time.Second

	// temperatureStep is the synthetic temperature increment per message.
	temperatureStep = 12

	// progressInterval is how often Wait reports the remaining time.
	progressInterval = time.Second
)

// ErrInvalidOptions is returned when Run is given an unusable configuration.
var ErrInvalidOptions = errors.New("telemetry: invalid options")

// Reading is one telemetry sample.
type Reading struct {
	Temperature int `json:"temperature"`
}

// ReadingAt returns the i-th reading of a run (1-based).
func ReadingAt(i int) Reading {
	return Reading{Temperature: temperatureStep * i}
}

// Publisher sends one telemetry payload and returns once it was acknowledged.
type Publisher interface {
	PublishTelemetry(payload []byte) error
}

// Logger is the logging surface telemetry needs.
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Options configures Run and Wait.
type Options struct {
	// NumMessages to publish. Zero publishes nothing.
	NumMessages int

	// Interval between messages.
	Interval time.Duration

	Logger Logger

	// Sleep defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run publishes NumMessages readings, one per Interval.
//
// Message i (1-based) carries {"temperature": 12*i}. The first publish
// error aborts the run; there is no retry.
func Run(ctx context.Context, pub Publisher, opts Options) error {
	if opts.NumMessages < 0 {
		return fmt.Errorf("%w: num_messages must not be negative", ErrInvalidOptions)
	}
	if opts.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidOptions)
	}

	log := loggerOrNop(opts.Logger)
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for i := 1; i <= opts.NumMessages; i++ {
		payload, err := json.Marshal(ReadingAt(i))
		if err != nil {
			return fmt.Errorf("encoding reading %d: %w", i, err)
		}

		log.Info("publishing message", "n", i, "total", opts.NumMessages, "payload", string(payload))

		if err := pub.PublishTelemetry(payload); err != nil {
			return fmt.Errorf("publishing message %d/%d: %w", i, opts.NumMessages, err)
		}

		if err := sleep(ctx, opts.Interval); err != nil {
			return fmt.Errorf("publish loop interrupted after %d/%d: %w", i, opts.NumMessages, err)
		}
	}

	return nil
}

// Wait blocks for d so downlinks can arrive, logging the remaining time
// once per second. It returns ctx.Err() if ctx ends first.
func Wait(ctx context.Context, d time.Duration, logger Logger) error {
	log := loggerOrNop(logger)
	if d <= 0 {
		return nil
	}

	log.Info("waiting for downlinks", "duration", d)

	deadline := time.NewTimer(d)
	defer deadline.Stop()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for downlinks: %w", ctx.Err())
		case <-deadline.C:
			return nil
		case <-ticker.C:
			log.Debug("waiting for downlinks", "remaining", (d - time.Since(start)).Round(time.Second))
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
