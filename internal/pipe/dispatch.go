package pipe

import (
	"fmt"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/observability"
)

// onInbound is the channel subscription handler. Errors are already logged
// by receive and stay local to the message.
func (p *Pipe) onInbound(in channel.Inbound) {
	_ = p.receive(in)
}

// receive classifies one inbound payload. The returned error concerns this
// message only; it never changes the connection state.
func (p *Pipe) receive(in channel.Inbound) error {
	p.lock()
	defer p.unlock()

	// delivery racing Dispose, or a third context sharing the channel
	if !p.state.active() || in.Sender != p.cfg.Target {
		return nil
	}

	env, err := decodeEnvelope(in.Payload)
	if err != nil {
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("Unparsable event data received from %s", in.Sender),
			Severity: SeverityWarning,
			Data:     map[string]any{"payload_bytes": len(in.Payload), "error": err.Error()},
		})
		return err
	}
	method := env.Command.Method
	observability.RecordPipeMessage(p.cfg.Name, "received", kindOf(method))
	p.logNow(LogEvent{
		Message: fmt.Sprintf("Message received! %s (%s)", env.RequestID, method),
		Data:    logPayload(method, in.Payload),
	})

	switch {
	case method == MethodHello || method == MethodHi:
		p.handleHandshake(env)
		return nil
	case method == MethodResponse:
		return p.handleResponse(env)
	case p.state != Connected:
		p.logNow(LogEvent{
			Message: "Received payload message before connection was established!",
			Data:    map[string]any{"request_id": env.RequestID, "method": method},
		})
		return nil
	default:
		p.handleCommand(env)
		return nil
	}
}

func (p *Pipe) handleResponse(env envelope) error {
	sourceID, _ := stringParam(env.Command.Params, paramRequestID)
	r, ok := p.table.get(sourceID)
	if !ok {
		err := fmt.Errorf("%w: response %s references %q", ErrUnknownResponse, env.RequestID, sourceID)
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("An error occurred while processing response '%s'. Cannot find corresponding source request %s", env.RequestID, sourceID),
			Severity: SeverityError,
			Data:     map[string]any{"error": err.Error()},
		})
		return err
	}
	if r.future.resolve(env.Command.Params[paramData]) {
		observability.RecordPipeRequest(p.cfg.Name, "responded")
	}
	r.responded = true
	p.reap()
	return nil
}

func (p *Pipe) handleCommand(env envelope) {
	onReceived := p.handlers.OnReceived
	if onReceived == nil {
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("No receive handler registered; dropping %s (%s)", env.RequestID, env.Command.Method),
			Severity: SeverityWarning,
		})
		return
	}
	received := ReceivedCommand{
		Method:    env.Command.Method,
		Params:    env.Command.Params,
		RequestID: env.RequestID,
		pipe:      p,
	}
	p.later(func() { onReceived(received) })
}
