package channel

import (
	"fmt"
	"sync"
)

const portQueueLen = 256

// Bus is an in-process address space. Each attached Port owns one identity;
// payloads sent to an identity are queued on its port and delivered to the
// port's subscribers in arrival order.
type Bus struct {
	mu    sync.RWMutex
	ports map[Identity]*Port
}

func NewBus() *Bus {
	return &Bus{ports: make(map[Identity]*Port)}
}

// Attach binds a new Port to id.
func (b *Bus) Attach(id Identity) (*Port, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: empty identity", ErrBadIdentity)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.ports[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrIdentityUsed, id)
	}
	p := &Port{
		local: id,
		bus:   b,
		queue: make(chan Inbound, portQueueLen),
		done:  make(chan struct{}),
	}
	b.ports[id] = p
	go p.run()
	return p, nil
}

func (b *Bus) lookup(id Identity) (*Port, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.ports[id]
	return p, ok
}

func (b *Bus) release(p *Port) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.ports[p.local]; ok && cur == p {
		delete(b.ports, p.local)
	}
}

// Port is one endpoint attached to a Bus.
type Port struct {
	local Identity
	bus   *Bus
	queue chan Inbound
	subs  subscribers
	done  chan struct{}
	once  sync.Once
}

var _ Channel = (*Port)(nil)

func (p *Port) Local() Identity       { return p.local }
func (p *Port) Subscribers() int      { return p.subs.count() }
func (p *Port) Done() <-chan struct{} { return p.done }

// Send never blocks; a full receiver queue drops the payload.
func (p *Port) Send(target Identity, payload string) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	dst, ok := p.bus.lookup(target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnbound, target)
	}
	return dst.enqueue(Inbound{Sender: p.local, Payload: payload})
}

func (p *Port) Subscribe(h Handler) (Subscription, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}
	return p.subs.add(h), nil
}

func (p *Port) Distinct(target Identity) bool {
	return target != p.local
}

// Close detaches the port; queued payloads are discarded.
func (p *Port) Close() {
	p.once.Do(func() {
		p.bus.release(p)
		close(p.done)
	})
}

func (p *Port) enqueue(in Inbound) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.queue <- in:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBackpressure, p.local)
	}
}

func (p *Port) run() {
	for {
		select {
		case <-p.done:
			return
		case in := <-p.queue:
			p.subs.deliver(in)
		}
	}
}
