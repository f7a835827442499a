package pipe

import (
	"fmt"

	"github.com/danmuck/edgepipe/internal/observability"
)

func (p *Pipe) reapTick() {
	p.lock()
	defer p.unlock()
	if p.reaper == nil || p.state != Connected {
		return
	}
	p.reap()
}

// reap runs under mu. Overdue unanswered requests are rejected, then every
// entry that is sent and responded, or timed out, leaves the table.
func (p *Pipe) reap() {
	if p.table.len() == 0 {
		return
	}
	now := p.cfg.Clock.Now()
	p.table.each(func(r *request) {
		if !r.expired(now) {
			return
		}
		r.timedOut = true
		if r.future.reject(fmt.Errorf("%w: request %s (%s) got no response", ErrRequestTimeout, r.id, r.command.Method)) {
			observability.RecordPipeRequest(p.cfg.Name, "timeout")
		}
		p.logNow(LogEvent{
			Message:  fmt.Sprintf("Request (%s) response timeout reached!", r.id),
			Severity: SeverityWarning,
			Data:     map[string]any{"method": r.command.Method, "deadline": r.deadline},
		})
	})
	if removed := p.table.prune((*request).settled); removed > 0 {
		observability.SetPipePending(p.cfg.Name, p.table.len())
	}
}
