package contrib

import "github.com/rs/zerolog"

// Option configures Standard.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	tracer    Tracer
	envPrefix string
}

func newOptions(opts []Option) *options {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger scripts write to.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer lets log entries name the script that wrote them.
func WithTracer(t Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithEnvPrefix limits the environment exposed to trusted scripts to
// variables starting with prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}
