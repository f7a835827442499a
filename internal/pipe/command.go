package pipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Reserved control methods. Any other method is an application command.
const (
	ControlPrefix  = ":>"
	MethodHello    = ControlPrefix + "hello"
	MethodHi       = ControlPrefix + "hi"
	MethodResponse = ControlPrefix + "response"
)

const (
	paramAuthKey   = "authKey"
	paramRequestID = "requestId"
	paramData      = "data"
)

// Command is one outbound call.
//
// A nil Timeout applies the pipe default. A Timeout of exactly zero makes the
// command fire-and-forget: its future resolves immediately and no response is
// awaited.
type Command struct {
	Method    string
	Params    map[string]any
	RequestID string
	Timeout   *time.Duration
}

// WithTimeout returns a copy of c with its own response timeout.
func (c Command) WithTimeout(d time.Duration) Command {
	c.Timeout = &d
	return c
}

// FireAndForget returns a copy of c that does not await a response.
func (c Command) FireAndForget() Command {
	return c.WithTimeout(0)
}

func (c Command) fireAndForget() bool {
	return c.Timeout != nil && *c.Timeout == 0
}

// IsControl reports whether method is reserved for the pipe itself.
func IsControl(method string) bool {
	return strings.HasPrefix(method, ControlPrefix)
}

// ReceivedCommand is the application view of an inbound command.
type ReceivedCommand struct {
	Method    string
	Params    map[string]any
	RequestID string

	pipe *Pipe
}

// RespondWith answers the command; data is delivered to the caller's future.
func (c ReceivedCommand) RespondWith(data any) *Future {
	if c.pipe == nil {
		return rejectedFuture(fmt.Errorf("%w: received command is not bound to a pipe", ErrNotConnected))
	}
	return c.pipe.Respond(c.RequestID, data)
}

// wire shapes; timeout travels as milliseconds
type wireCommand struct {
	Method    string         `json:"method"`
	Params    map[string]any `json:"params,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Timeout   *float64       `json:"timeout,omitempty"`
}

type envelope struct {
	Command   wireCommand `json:"command"`
	RequestID string      `json:"requestId"`
}

func encodeEnvelope(requestID string, cmd Command) (string, error) {
	wc := wireCommand{
		Method:    cmd.Method,
		Params:    cmd.Params,
		RequestID: cmd.RequestID,
	}
	if cmd.Timeout != nil {
		ms := float64(*cmd.Timeout) / float64(time.Millisecond)
		wc.Timeout = &ms
	}
	// control methods carry '>' which must stay unescaped on the wire
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope{Command: wc, RequestID: requestID}); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if strings.TrimSpace(env.Command.Method) == "" {
		return envelope{}, fmt.Errorf("%w: missing command.method", ErrParse)
	}
	return env, nil
}

// stringParam returns params[key] when it is a string. ok is false when the
// key is present with a non-string value.
func stringParam(params map[string]any, key string) (string, bool) {
	v, present := params[key]
	if !present || v == nil {
		return "", true
	}
	s, isString := v.(string)
	return s, isString
}
