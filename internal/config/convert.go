package config

import (
	"strings"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/pipe"
)

// PipeOptions maps a validated file config onto pipe settings. Channel,
// clock and handlers are left for the caller to wire.
func (c PipeConfig) PipeOptions() (pipe.Config, channel.Identity, error) {
	out := pipe.DefaultConfig()
	local, err := channel.ParseIdentity(c.Local)
	if err != nil {
		return pipe.Config{}, channel.Identity{}, err
	}
	target, err := channel.ParseIdentity(c.Target)
	if err != nil {
		return pipe.Config{}, channel.Identity{}, err
	}
	timeout, err := positiveDuration("timeout", c.withDefaults().Timeout)
	if err != nil {
		return pipe.Config{}, channel.Identity{}, err
	}

	out.Name = c.Name
	out.Target = target
	out.AuthKey = c.AuthKey
	out.Timeout = timeout
	out.Verbose = c.Verbose
	if strings.TrimSpace(c.HandshakeTimeout) != "" {
		hs, err := positiveDuration("handshake_timeout", c.HandshakeTimeout)
		if err != nil {
			return pipe.Config{}, channel.Identity{}, err
		}
		out.HandshakeTimeout = hs
	}
	return out, local, nil
}

// DialConfig builds the websocket dial settings for a dialing side.
func (c PipeConfig) DialConfig(local, remote channel.Identity) channel.DialConfig {
	return channel.DialConfig{
		URL:         c.Dial,
		Local:       local,
		Remote:      remote,
		MaxAttempts: c.DialAttempts,
	}
}
