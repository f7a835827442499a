package pipe

import (
	"time"

	"github.com/danmuck/edgepipe/internal/auth"
	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultProbeInterval = 100 * time.Millisecond
	DefaultReapInterval  = time.Second
)

// Severity grades a LogEvent.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEvent is one structured log item delivered to Handlers.OnLog.
type LogEvent struct {
	Message  string
	Severity Severity
	Data     any
}

// Handlers are invoked outside the pipe's lock, in the order the pipe queued
// them, so they may call back into the pipe.
type Handlers struct {
	OnConnected func(*Pipe)
	OnReceived  func(ReceivedCommand)
	OnLog       func(LogEvent)
}

// Config defines a pipe's endpoint, transport and timing.
type Config struct {
	// Name labels logs and metrics.
	Name string
	// Target is the only sender whose payloads are accepted.
	Target channel.Identity
	// Channel carries payloads to Target.
	Channel channel.Channel
	// AuthKey is an optional shared secret sent with every handshake message.
	AuthKey string
	// KeyValidator checks the remote key. Nil compares against AuthKey.
	KeyValidator auth.Validator
	// Timeout applies to requests without their own timeout.
	Timeout time.Duration
	// HandshakeTimeout bounds Connect. Defaults to Timeout.
	HandshakeTimeout time.Duration
	ProbeInterval    time.Duration
	ReapInterval     time.Duration
	// Verbose mirrors error log events to Diagnostics.
	Verbose     bool
	Diagnostics *zerolog.Logger
	Logger      *zerolog.Logger

	Clock    clock.Clock
	IDs      IDGenerator
	Handlers Handlers
}

// DefaultConfig returns timings matching the wire protocol's reference peers.
func DefaultConfig() Config {
	return Config{
		Name:          "pipe",
		Timeout:       DefaultTimeout,
		ProbeInterval: DefaultProbeInterval,
		ReapInterval:  DefaultReapInterval,
		Clock:         clock.Wall(),
		IDs:           ShortIDs(nil),
	}
}

// WithDefaults fills every zero field from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = c.Timeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.IDs == nil {
		c.IDs = d.IDs
	}
	return c
}
