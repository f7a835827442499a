package pipe

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/clock"
	"github.com/danmuck/edgepipe/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Pipe is one side of a logical connection. All state and the pending table
// are guarded by mu; probe ticks, reaper ticks and inbound deliveries
// serialise on it.
type Pipe struct {
	mu sync.Mutex

	cfg      Config
	handlers Handlers
	state    State

	startedAt     time.Time
	probe         clock.Timer
	reaper        clock.Timer
	sub           channel.Subscription
	connectFuture *Future
	errStack      []error
	table         *requestTable

	// callbacks queued under mu, run by unlock
	deferred []func()

	log  zerolog.Logger
	diag zerolog.Logger
}

// New builds a disconnected pipe.
func New(cfg Config) *Pipe {
	cfg = cfg.WithDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	diag := logger
	if cfg.Diagnostics != nil {
		diag = *cfg.Diagnostics
	}
	return &Pipe{
		cfg:      cfg,
		handlers: cfg.Handlers,
		state:    Disconnected,
		table:    newRequestTable(),
		log:      logger.With().Str("component", "pipe").Str("pipe", cfg.Name).Logger(),
		diag:     diag.With().Str("pipe", cfg.Name).Logger(),
	}
}

func (p *Pipe) lock() {
	p.mu.Lock()
}

func (p *Pipe) unlock() {
	fx := p.deferred
	p.deferred = nil
	p.mu.Unlock()
	for _, fn := range fx {
		fn()
	}
}

func (p *Pipe) later(fn func()) {
	p.deferred = append(p.deferred, fn)
}

func (p *Pipe) Name() string {
	return p.cfg.Name
}

func (p *Pipe) State() State {
	p.lock()
	defer p.unlock()
	return p.state
}

func (p *Pipe) IsConnected() bool {
	return p.State() == Connected
}

func (p *Pipe) Target() channel.Identity {
	p.lock()
	defer p.unlock()
	return p.cfg.Target
}

func (p *Pipe) configurable() error {
	if p.state.active() {
		return fmt.Errorf("%w: cannot reconfigure while %s", ErrConfiguration, p.state)
	}
	return nil
}

func (p *Pipe) SetTarget(id channel.Identity) error {
	p.lock()
	defer p.unlock()
	if err := p.configurable(); err != nil {
		return err
	}
	p.cfg.Target = id
	return nil
}

// SetTargetURL sets the target from any URL; only scheme and host are kept.
func (p *Pipe) SetTargetURL(raw string) error {
	id, err := channel.ParseIdentity(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return p.SetTarget(id)
}

func (p *Pipe) SetChannel(ch channel.Channel) error {
	p.lock()
	defer p.unlock()
	if err := p.configurable(); err != nil {
		return err
	}
	p.cfg.Channel = ch
	return nil
}

func (p *Pipe) SetAuthKey(key string) error {
	p.lock()
	defer p.unlock()
	if err := p.configurable(); err != nil {
		return err
	}
	p.cfg.AuthKey = key
	return nil
}

// SetHandlers replaces the application callbacks. Allowed in any state.
func (p *Pipe) SetHandlers(h Handlers) {
	p.lock()
	defer p.unlock()
	p.handlers = h
}

// Send queues cmd and returns the future of its response data. The request
// is dispatched immediately once the handshake has completed; while
// connecting it waits in the table and is flushed in insertion order.
func (p *Pipe) Send(cmd Command) *Future {
	p.lock()
	defer p.unlock()

	if !p.state.active() {
		p.logNow(LogEvent{
			Message:  "Cannot send any message because pipe is not connected. Use Connect() and check its result.",
			Severity: SeverityError,
			Data:     map[string]any{"method": cmd.Method, "state": p.state.String()},
		})
		observability.RecordPipeRequest(p.cfg.Name, "rejected")
		return rejectedFuture(fmt.Errorf("%w: state=%s", ErrNotConnected, p.state))
	}
	if strings.TrimSpace(cmd.Method) == "" {
		return rejectedFuture(fmt.Errorf("%w: missing method", ErrInvalidCommand))
	}

	r, err := p.newRequest(cmd)
	if err != nil {
		p.logNow(LogEvent{Message: err.Error(), Severity: SeverityError})
		return rejectedFuture(err)
	}
	if !p.table.insert(r) {
		err := fmt.Errorf("%w: %s", ErrDuplicateRequest, r.id)
		p.logNow(LogEvent{Message: err.Error(), Severity: SeverityError})
		return rejectedFuture(err)
	}
	observability.SetPipePending(p.cfg.Name, p.table.len())

	if p.established() {
		_ = p.sendNow(r)
		if r.settled() {
			p.table.remove(r.id)
			observability.SetPipePending(p.cfg.Name, p.table.len())
		}
	}
	return r.future
}

// Respond answers the request identified by requestID. Responses are
// fire-and-forget: the returned future resolves as soon as the response is
// queued.
func (p *Pipe) Respond(requestID string, data any) *Future {
	return p.Send(Command{
		Method: MethodResponse,
		Params: map[string]any{
			paramRequestID: requestID,
			paramData:      data,
		},
	}.FireAndForget())
}

// Dispose stops both timers, releases the channel subscription, clears the
// pending table and rejects every unsettled future with ErrDisposed. It is
// idempotent.
func (p *Pipe) Dispose() {
	p.lock()
	defer p.unlock()
	p.dispose(nil)
}

// Snapshot is a point-in-time view of a pipe.
type Snapshot struct {
	Name     string           `json:"name"`
	State    State            `json:"state"`
	Target   string           `json:"target"`
	Verbose  bool             `json:"verbose"`
	Timeout  string           `json:"timeout"`
	Pending  []PendingRequest `json:"pending"`
	Probing  bool             `json:"probing"`
	Reaping  bool             `json:"reaping"`
	Since    time.Time        `json:"since,omitzero"`
	ErrStack []string         `json:"error_stack,omitempty"`
}

func (p *Pipe) Snapshot() Snapshot {
	p.lock()
	defer p.unlock()
	s := Snapshot{
		Name:    p.cfg.Name,
		State:   p.state,
		Target:  p.cfg.Target.String(),
		Verbose: p.cfg.Verbose,
		Timeout: p.cfg.Timeout.String(),
		Pending: p.table.list(),
		Probing: p.probe != nil,
		Reaping: p.reaper != nil,
		Since:   p.startedAt,
	}
	for _, err := range p.errStack {
		s.ErrStack = append(s.ErrStack, err.Error())
	}
	return s
}

// established reports whether the handshake has fully completed: connected
// and the probe timer retired.
func (p *Pipe) established() bool {
	return p.state == Connected && p.probe == nil
}

func (p *Pipe) newRequest(cmd Command) (*request, error) {
	now := p.cfg.Clock.Now()
	id := cmd.RequestID
	if id == "" {
		id = p.nextID()
	} else if p.table.has(id) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	r := &request{
		id:       id,
		command:  cmd,
		queuedAt: now,
	}
	if cmd.fireAndForget() {
		r.responded = true
		r.future = resolvedFuture(nil)
		observability.RecordPipeRequest(p.cfg.Name, "fire_and_forget")
		return r, nil
	}
	timeout := p.cfg.Timeout
	if cmd.Timeout != nil && *cmd.Timeout > 0 {
		timeout = *cmd.Timeout
	}
	r.deadline = now.Add(timeout)
	r.future = newFuture()
	return r, nil
}

func (p *Pipe) nextID() string {
	id := p.cfg.IDs()
	for attempt := 0; p.table.has(id) && attempt < 16; attempt++ {
		id = p.cfg.IDs()
	}
	return id
}

// sendNow serializes r and hands it to the channel. A channel error leaves r
// unsent; the reaper eventually times it out.
func (p *Pipe) sendNow(r *request) error {
	payload, err := encodeEnvelope(r.id, r.command)
	if err != nil {
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("Cannot serialize message %s (%s)", r.id, r.command.Method),
			Severity: SeverityError,
			Data:     map[string]any{"error": err.Error()},
		})
		return err
	}
	if p.cfg.Channel == nil {
		return fmt.Errorf("%w: channel released", ErrDisposed)
	}
	if err := p.cfg.Channel.Send(p.cfg.Target, payload); err != nil {
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("Sending message %s (%s) failed", r.id, r.command.Method),
			Severity: SeverityWarning,
			Data:     map[string]any{"error": err.Error()},
		})
		if r.deadline.IsZero() {
			// untracked entries have no deadline to expire them
			r.timedOut = true
		}
		return err
	}
	r.sent = true
	observability.RecordPipeMessage(p.cfg.Name, "sent", kindOf(r.command.Method))
	p.logNow(LogEvent{
		Message: fmt.Sprintf("Sending message %s (%s)", r.id, r.command.Method),
		Data:    logPayload(r.command.Method, payload),
	})
	return nil
}

// dispose runs under mu. cause, when set, is wrapped into the error that
// rejects outstanding futures.
func (p *Pipe) dispose(cause error) {
	wasDisposed := p.state == Disposed

	if p.probe != nil {
		p.probe.Stop()
		p.probe = nil
	}
	if p.reaper != nil {
		p.reaper.Stop()
		p.reaper = nil
	}
	if p.sub != nil {
		p.sub.Close()
		p.sub = nil
	}

	reason := ErrDisposed
	if cause != nil {
		reason = fmt.Errorf("%w: %w", ErrDisposed, cause)
	}
	if f := p.connectFuture; f != nil {
		f.reject(reason)
		p.connectFuture = nil
	}
	abandoned := 0
	for _, r := range p.table.clear() {
		if r.future.reject(fmt.Errorf("%w (request %s)", reason, r.id)) {
			abandoned++
			observability.RecordPipeRequest(p.cfg.Name, "disposed")
		}
	}
	observability.SetPipePending(p.cfg.Name, 0)

	p.errStack = nil
	p.cfg.Channel = nil
	p.state = Disposed
	if !wasDisposed {
		p.logNow(LogEvent{
			Message: "Pipe disposed",
			Data:    map[string]any{"abandoned": abandoned},
		})
	}
}

// logNow runs under mu. The zerolog record is written immediately; OnLog is
// queued for unlock.
func (p *Pipe) logNow(ev LogEvent) {
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	var e *zerolog.Event
	switch ev.Severity {
	case SeverityError:
		e = p.log.Error()
	case SeverityWarning:
		e = p.log.Warn()
	default:
		e = p.log.Debug()
	}
	e.Str("state", p.state.String()).Interface("data", ev.Data).Msg(ev.Message)

	if ev.Severity == SeverityError && p.cfg.Verbose {
		p.diag.Error().Interface("data", ev.Data).Msg(ev.Message)
	}
	if onLog := p.handlers.OnLog; onLog != nil {
		p.later(func() { onLog(ev) })
	}
}

// logPayload keeps handshake payloads, which carry the auth key, out of log
// records.
func logPayload(method, payload string) map[string]any {
	if method == MethodHello || method == MethodHi {
		return map[string]any{"method": method, "payload_bytes": len(payload)}
	}
	return map[string]any{"payload": payload}
}

func kindOf(method string) string {
	switch {
	case method == MethodResponse:
		return "response"
	case IsControl(method):
		return "control"
	default:
		return "command"
	}
}
