package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/typeshift/typeshift-go/api/throttle"
	"github.com/typeshift/typeshift-go/config"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	client    *http.Client
	endpoint  string
	version   string
	retries   *int
	timeout   *time.Duration
	long      *time.Duration
	chunkSize *int
	userAgent string
	throttle  *throttle.Config
	logger    *slog.Logger
	tracer    trace.Tracer
	sleep     func(d time.Duration)
}

// WithHTTPClient replaces the default [http.Client] used by the [Client].
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithEndpoint overrides the service base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *options) error {
		if endpoint == "" {
			return errors.New("endpoint must not be empty")
		}
		o.endpoint = endpoint
		return nil
	}
}

// WithVersion sets the API version segment used in request URLs.
func WithVersion(version string) Option {
	return func(o *options) error {
		if version == "" {
			return errors.New("version must not be empty")
		}
		o.version = version
		return nil
	}
}

// WithRetries sets the total number of attempts made per logical
// request before a connection failure is surfaced.
func WithRetries(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return errors.New("retries must be at least 1")
		}
		o.retries = &n
		return nil
	}
}

// WithTimeouts sets the per-call deadlines: def applies to most
// endpoints, long to upload and binary download endpoints.
func WithTimeouts(def, long time.Duration) Option {
	return func(o *options) error {
		if def <= 0 || long <= 0 {
			return errors.New("timeouts must be positive")
		}
		o.timeout = &def
		o.long = &long
		return nil
	}
}

// WithChunkSize sets the stream chunk size used when buffering file
// fields and forwarding downloads.
func WithChunkSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return errors.New("chunk size must be positive")
		}
		o.chunkSize = &n
		return nil
	}
}

// WithUserAgent overrides the platform-identifying User-Agent header.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given
// requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(o *options) error {
		if rps <= 0 || burst <= 0 {
			return fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, throttle.ErrMustNotBeZero)
		}
		o.throttle = &throttle.Config{RPS: rps, Burst: burst}
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer injects an OpenTelemetry tracer; one span is recorded
// per logical request.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// WithSleep replaces the backoff sleep between retry attempts.
// Intended for tests and callers with their own schedulers.
func WithSleep(fn func(d time.Duration)) Option {
	return func(o *options) error {
		if fn == nil {
			return errors.New("sleep func must not be nil")
		}
		o.sleep = fn
		return nil
	}
}

// WithSettings reads endpoint and connection tuning from a
// [config.Settings], leaving explicitly-set options in force.
func WithSettings(settings *config.Settings) Option {
	return func(o *options) error {
		if settings == nil {
			return errors.New("settings must not be nil")
		}

		if o.endpoint == "" {
			o.endpoint = settings.Get(config.SectionAPI, config.KeyEndpoint, "")
		}
		if o.retries == nil {
			if n := settings.GetInt(config.SectionConnection, config.KeyRetries, 0); n > 0 {
				o.retries = &n
			}
		}
		if o.timeout == nil {
			if secs := settings.GetInt(config.SectionConnection, config.KeyDefaultTimeout, 0); secs > 0 {
				d := time.Duration(secs) * time.Second
				o.timeout = &d
			}
		}
		if o.long == nil {
			if secs := settings.GetInt(config.SectionConnection, config.KeyLongTimeout, 0); secs > 0 {
				d := time.Duration(secs) * time.Second
				o.long = &d
			}
		}
		if o.chunkSize == nil {
			if n := settings.GetInt(config.SectionConnection, config.KeyStreamChunkSize, 0); n > 0 {
				o.chunkSize = &n
			}
		}

		return nil
	}
}
