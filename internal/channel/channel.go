package channel

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	ErrClosed       = errors.New("channel: closed")
	ErrUnbound      = errors.New("channel: unbound identity")
	ErrIdentityUsed = errors.New("channel: identity in use")
	ErrBackpressure = errors.New("channel: receiver queue full")
	ErrBadIdentity  = errors.New("channel: invalid identity")
)

// Identity is the (scheme, host) pair naming one endpoint.
type Identity struct {
	Scheme string
	Host   string
}

// ParseIdentity reduces a URL to its scheme and host; path, query and
// fragment are dropped.
func ParseIdentity(raw string) (Identity, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrBadIdentity, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Identity{}, fmt.Errorf("%w: %q needs scheme and host", ErrBadIdentity, raw)
	}
	return Identity{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}, nil
}

func MustParseIdentity(raw string) Identity {
	id, err := ParseIdentity(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (id Identity) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Scheme + "://" + id.Host
}

func (id Identity) IsZero() bool {
	return id.Scheme == "" && id.Host == ""
}

// Inbound is one delivered payload and the identity of its sender.
type Inbound struct {
	Sender  Identity
	Payload string
}

// Handler receives inbound payloads on the adapter's delivery goroutine.
type Handler func(Inbound)

// Subscription is released with Close; Close is idempotent.
type Subscription interface {
	Close()
}

// Channel is the adapter a pipe sends through and listens on.
type Channel interface {
	// Send hands one serialized payload to the endpoint named by target.
	Send(target Identity, payload string) error
	// Subscribe registers h for every payload arriving on this channel,
	// regardless of sender.
	Subscribe(h Handler) (Subscription, error)
	// Distinct reports whether target names a context other than the
	// local one. Handshakes refuse to probe a non-distinct target.
	Distinct(target Identity) bool
}

type subscribers struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func (s *subscribers) add(h Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]Handler)
	}
	s.next++
	id := s.next
	s.handlers[id] = h
	return &subscription{owner: s, id: id}
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

func (s *subscribers) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

func (s *subscribers) deliver(in Inbound) {
	s.mu.RLock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()
	for _, h := range handlers {
		h(in)
	}
}

type subscription struct {
	owner *subscribers
	id    int
	once  sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.owner.remove(s.id)
	})
}
