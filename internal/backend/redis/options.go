package redis

// Option is a functional option for configuring a Redis factory.
type Option func(*config)

// config holds configuration for Redis factories.
type config struct {
	prefix     string
	maxRetries int
}

// WithPrefix sets the namespace for every key the factory writes.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithMaxRetries sets how often an optimistic transaction is retried after
// a concurrent write invalidated its WATCH.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}
