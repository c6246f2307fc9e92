package aitt

import "log/slog"

// Config controls how New constructs an AITT instance. Use the With*
// options rather than constructing Config directly.
type Config struct {
	logger       *slog.Logger
	localIP      string
	clearSession bool
}

// Option configures an AITT instance at construction.
type Option func(*Config)

// WithLogger overrides the package default logger (slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// WithLocalIP sets the address the TCP transports listen on and the
// address direct transports advertise through Discovery. UDP_SRTP sockets
// and outbound TCP connections do not bind to it. Defaults to "0.0.0.0".
func WithLocalIP(ip string) Option {
	return func(c *Config) { c.localIP = ip }
}

// WithClearSession, if set, makes Connect publish a "disconnected" record
// for this peer id before "connected", wiping any retained presence a
// prior crashed session left behind.
func WithClearSession(clear bool) Option {
	return func(c *Config) { c.clearSession = clear }
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.localIP == "" {
		c.localIP = "0.0.0.0"
	}
}
