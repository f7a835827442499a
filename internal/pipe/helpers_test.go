package pipe

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/clock"
)

var (
	localID  = channel.MustParseIdentity("https://local.test")
	remoteID = channel.MustParseIdentity("https://remote.test")
	otherID  = channel.MustParseIdentity("https://other.test")
)

type sentPayload struct {
	target  channel.Identity
	payload string
}

// recordingChannel captures outbound payloads and lets tests feed inbound
// ones through the registered handler.
type recordingChannel struct {
	mu      sync.Mutex
	local   channel.Identity
	sent    []sentPayload
	sendErr error
	subs    int
}

func newRecordingChannel() *recordingChannel {
	return &recordingChannel{local: localID}
}

func (c *recordingChannel) Send(target channel.Identity, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentPayload{target: target, payload: payload})
	return nil
}

func (c *recordingChannel) Subscribe(channel.Handler) (channel.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs++
	return &recordingSub{owner: c}, nil
}

func (c *recordingChannel) Distinct(target channel.Identity) bool {
	return target != c.local
}

func (c *recordingChannel) subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

func (c *recordingChannel) failSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// envelopes decodes everything sent so far.
func (c *recordingChannel) envelopes(t *testing.T) []envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope, 0, len(c.sent))
	for _, s := range c.sent {
		env, err := decodeEnvelope(s.payload)
		if err != nil {
			t.Fatalf("decode sent payload %q: %v", s.payload, err)
		}
		out = append(out, env)
	}
	return out
}

// methods lists sent methods, optionally without control traffic.
func (c *recordingChannel) methods(t *testing.T, withControl bool) []string {
	t.Helper()
	var out []string
	for _, env := range c.envelopes(t) {
		if !withControl && IsControl(env.Command.Method) {
			continue
		}
		out = append(out, env.Command.Method)
	}
	return out
}

type recordingSub struct {
	owner *recordingChannel
	once  sync.Once
}

func (s *recordingSub) Close() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.subs--
		s.owner.mu.Unlock()
	})
}

type fixture struct {
	pipe  *Pipe
	ch    *recordingChannel
	clock *clock.Manual
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	ch := newRecordingChannel()
	clk := clock.NewManual(time.Unix(1760000000, 0))
	cfg := DefaultConfig()
	cfg.Name = t.Name()
	cfg.Target = remoteID
	cfg.Channel = ch
	cfg.Clock = clk
	cfg.IDs = SequenceIDs("req")
	if mutate != nil {
		mutate(&cfg)
	}
	p := New(cfg)
	t.Cleanup(p.Dispose)
	return &fixture{pipe: p, ch: ch, clock: clk}
}

func (f *fixture) deliver(t *testing.T, sender channel.Identity, id string, cmd Command) error {
	t.Helper()
	payload, err := encodeEnvelope(id, cmd)
	if err != nil {
		t.Fatalf("encode inbound: %v", err)
	}
	return f.pipe.receive(channel.Inbound{Sender: sender, Payload: payload})
}

// connect drives the handshake: one probe, the peer's hi, one more probe.
func (f *fixture) connect(t *testing.T) *Future {
	t.Helper()
	fut, err := f.pipe.Connect()
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.clock.Advance(DefaultProbeInterval)
	if err := f.deliver(t, remoteID, "peer-hi", Command{Method: MethodHi}); err != nil {
		t.Fatalf("deliver hi: %v", err)
	}
	f.clock.Advance(DefaultProbeInterval)
	if !fut.Settled() {
		t.Fatalf("connect future unsettled after handshake, state=%s", f.pipe.State())
	}
	if _, err := fut.Wait(testContext(t)); err != nil {
		t.Fatalf("connect future: %v", err)
	}
	return fut
}

func settledErr(t *testing.T, f *Future) error {
	t.Helper()
	if !f.Settled() {
		t.Fatalf("future not settled")
	}
	_, err := f.Wait(testContext(t))
	return err
}
