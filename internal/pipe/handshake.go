package pipe

import (
	"errors"
	"fmt"

	"github.com/danmuck/edgepipe/internal/auth"
	"github.com/danmuck/edgepipe/internal/observability"
)

// Connect starts the handshake. Configuration problems are returned
// synchronously; the returned future settles when the handshake completes,
// times out or fails.
func (p *Pipe) Connect() (*Future, error) {
	p.lock()
	defer p.unlock()

	if p.cfg.Target.IsZero() {
		return nil, fmt.Errorf("%w: cannot connect without a target identity", ErrConfiguration)
	}
	if p.cfg.Channel == nil {
		return nil, fmt.Errorf("%w: cannot connect without a channel", ErrConfiguration)
	}
	if p.state.active() {
		return nil, fmt.Errorf("%w: already %s", ErrConfiguration, p.state)
	}

	sub, err := p.cfg.Channel.Subscribe(p.onInbound)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", ErrConfiguration, err)
	}
	p.sub = sub
	p.errStack = nil
	p.startedAt = p.cfg.Clock.Now()
	p.state = Connecting
	p.connectFuture = newFuture()
	p.probe = p.cfg.Clock.Every(p.cfg.ProbeInterval, p.probeTick)

	p.logNow(LogEvent{
		Message: fmt.Sprintf("Connecting to %s", p.cfg.Target),
		Data:    map[string]any{"handshake_timeout": p.cfg.HandshakeTimeout.String()},
	})
	return p.connectFuture, nil
}

func (p *Pipe) probeTick() {
	p.lock()
	defer p.unlock()

	// stale tick from a stopped timer
	if p.probe == nil || !p.state.active() {
		return
	}

	switch {
	case p.state == Connected:
		p.completeHandshake()
	case p.cfg.Clock.Since(p.startedAt) >= p.cfg.HandshakeTimeout:
		p.failHandshake(ErrHandshakeTimeout, fmt.Sprintf(
			"Connection timeout! Target %s did not respond with a handshake within %s",
			p.cfg.Target, p.cfg.HandshakeTimeout,
		))
	default:
		p.sendHello()
	}
}

func (p *Pipe) completeHandshake() {
	p.probe.Stop()
	p.probe = nil

	unsent := p.table.unsent()
	for _, r := range unsent {
		_ = p.sendNow(r)
	}
	p.reaper = p.cfg.Clock.Every(p.cfg.ReapInterval, p.reapTick)

	observability.RecordPipeHandshake(p.cfg.Name, "connected")
	p.logNow(LogEvent{
		Message: fmt.Sprintf("Pipe connected to %s", p.cfg.Target),
		Data:    map[string]any{"flushed": len(unsent)},
	})

	if onConnected := p.handlers.OnConnected; onConnected != nil {
		p.later(func() { onConnected(p) })
	}
	if f := p.connectFuture; f != nil {
		p.connectFuture = nil
		p.later(func() { f.resolve(nil) })
	}
}

// failHandshake tears the pipe down; the connection itself is compromised.
func (p *Pipe) failHandshake(cause error, message string) {
	if p.probe != nil {
		p.probe.Stop()
		p.probe = nil
	}
	stack := append([]error(nil), p.errStack...)
	herr := &HandshakeError{Cause: cause, Message: message, Stack: stack}

	outcome := "failed"
	if errors.Is(cause, ErrHandshakeTimeout) {
		outcome = "timeout"
	}
	observability.RecordPipeHandshake(p.cfg.Name, outcome)

	stackText := make([]string, 0, len(stack))
	for _, err := range stack {
		stackText = append(stackText, err.Error())
	}
	p.logNow(LogEvent{
		Message:  message,
		Severity: SeverityError,
		Data:     map[string]any{"errorStack": stackText},
	})

	if f := p.connectFuture; f != nil {
		f.reject(herr)
		p.connectFuture = nil
	}
	p.dispose(herr)
}

func (p *Pipe) sendHello() {
	if !p.cfg.Channel.Distinct(p.cfg.Target) {
		p.failHandshake(ErrHandshakeFailed, fmt.Sprintf(
			"Target %s is the local context; a pipe needs a distinct counterpart", p.cfg.Target,
		))
		return
	}
	hello := p.controlRequest(MethodHello)
	if err := p.sendNow(hello); err != nil {
		p.errStack = append(p.errStack, err)
	}
}

// controlRequest builds an untracked handshake message carrying the local key.
func (p *Pipe) controlRequest(method string) *request {
	params := map[string]any{}
	if p.cfg.AuthKey != "" {
		params[paramAuthKey] = p.cfg.AuthKey
	}
	return &request{
		id:       p.nextID(),
		command:  Command{Method: method, Params: params},
		queuedAt: p.cfg.Clock.Now(),
	}
}

// keyValidator resolves at check time so SetAuthKey applies to the default.
func (p *Pipe) keyValidator() auth.Validator {
	if p.cfg.KeyValidator != nil {
		return p.cfg.KeyValidator
	}
	return auth.SharedKey{Key: p.cfg.AuthKey}
}

// handleHandshake runs under mu for inbound :>hello and :>hi.
func (p *Pipe) handleHandshake(env envelope) {
	key, ok := stringParam(env.Command.Params, paramAuthKey)
	if ok {
		ok = p.keyValidator().Validate(key) == nil
	}
	if !ok {
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("Handshake FAILED. Incoming authorization key from %s does not match", p.cfg.Target),
			Severity: SeverityWarning,
			Data: map[string]any{
				"error":          ErrAuthMismatch.Error(),
				"remote_has_key": key != "",
				"local_has_key":  p.cfg.AuthKey != "",
				"custom_check":   p.cfg.KeyValidator != nil,
			},
		})
		return
	}

	if env.Command.Method == MethodHello {
		_ = p.sendNow(p.controlRequest(MethodHi))
	}
	if p.state == Connecting {
		p.state = Connected
		p.logNow(LogEvent{
			Message: fmt.Sprintf("Pipe %s received handshake from %s", p.cfg.Name, p.cfg.Target),
			Data:    map[string]any{"method": env.Command.Method},
		})
	}
}
