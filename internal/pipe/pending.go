package pipe

import "time"

// request is one entry of the pending table.
type request struct {
	id        string
	command   Command
	queuedAt  time.Time
	deadline  time.Time // zero when untracked (fire-and-forget)
	sent      bool
	responded bool
	timedOut  bool
	future    *Future
}

func (r *request) settled() bool {
	return (r.sent && r.responded) || r.timedOut
}

func (r *request) expired(now time.Time) bool {
	return !r.deadline.IsZero() && !r.responded && !r.timedOut && !now.Before(r.deadline)
}

// PendingRequest is a read-only view of one table entry.
type PendingRequest struct {
	RequestID string    `json:"request_id"`
	Method    string    `json:"method"`
	QueuedAt  time.Time `json:"queued_at"`
	Deadline  time.Time `json:"deadline,omitzero"`
	Sent      bool      `json:"sent"`
	Responded bool      `json:"responded"`
	TimedOut  bool      `json:"timed_out"`
}

// requestTable keeps entries keyed by correlation id and iterates them in
// insertion order. It is guarded by the owning Pipe's mutex.
type requestTable struct {
	order []*request
	byID  map[string]*request
}

func newRequestTable() *requestTable {
	return &requestTable{byID: make(map[string]*request)}
}

func (t *requestTable) insert(r *request) bool {
	if _, exists := t.byID[r.id]; exists {
		return false
	}
	t.byID[r.id] = r
	t.order = append(t.order, r)
	return true
}

func (t *requestTable) get(id string) (*request, bool) {
	r, ok := t.byID[id]
	return r, ok
}

func (t *requestTable) has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *requestTable) remove(id string) {
	if _, ok := t.byID[id]; !ok {
		return
	}
	t.prune(func(r *request) bool { return r.id == id })
}

func (t *requestTable) len() int {
	return len(t.order)
}

func (t *requestTable) each(fn func(*request)) {
	for _, r := range t.order {
		fn(r)
	}
}

func (t *requestTable) unsent() []*request {
	out := make([]*request, 0, len(t.order))
	for _, r := range t.order {
		if !r.sent {
			out = append(out, r)
		}
	}
	return out
}

// prune drops every entry for which drop returns true and reports how many
// were removed.
func (t *requestTable) prune(drop func(*request) bool) int {
	kept := t.order[:0]
	removed := 0
	for _, r := range t.order {
		if drop(r) {
			delete(t.byID, r.id)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	for i := len(kept); i < len(t.order); i++ {
		t.order[i] = nil
	}
	t.order = kept
	return removed
}

func (t *requestTable) clear() []*request {
	out := t.order
	t.order = nil
	t.byID = make(map[string]*request)
	return out
}

func (t *requestTable) list() []PendingRequest {
	out := make([]PendingRequest, 0, len(t.order))
	for _, r := range t.order {
		out = append(out, PendingRequest{
			RequestID: r.id,
			Method:    r.command.Method,
			QueuedAt:  r.queuedAt,
			Deadline:  r.deadline,
			Sent:      r.sent,
			Responded: r.responded,
			TimedOut:  r.timedOut,
		})
	}
	return out
}
