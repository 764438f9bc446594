package objstore

import "go.uber.org/zap"

// Option configures an Accessor.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
