// Package correlator matches asynchronous replies to the requests that are waiting for them.
//
// A request moves Sent -> Resolved | TimedOut | Dropped. Each registered id has at most one live
// slot; a reply for an id that is unknown, already resolved or already timed out is dropped.
// On timeout the slot is evicted under the table lock before the waiter returns, so a reply
// racing the deadline is delivered to exactly one place: the waiter or the drop counter.
package correlator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
)

// Stats is a snapshot of correlator counters.
type Stats struct {
	Registered uint64
	Resolved   uint64
	TimedOut   uint64
	Dropped    uint64
	Failed     uint64
	InFlight   int
}

// Observer receives request lifecycle events. It must not block.
type Observer interface {
	RequestResolved(kind protocol.CommandKind, rtt time.Duration)
	RequestTimedOut(kind protocol.CommandKind)
	RequestFailed(kind protocol.CommandKind)
	ReplyDropped()
}

type slot struct {
	id       uint64
	kind     protocol.CommandKind
	sent     time.Time
	deadline time.Time
	reply    chan *protocol.Reply
	failed   chan struct{}
}

// Correlator is the pending request table of one session.
type Correlator struct {
	nextID uint64 // atomic

	mu      sync.Mutex
	pending map[uint64]*slot
	failErr error

	registered atomic.Uint64
	resolved   atomic.Uint64
	timedOut   atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64

	observer Observer
	logger   log.Log
}

// New creates an empty table. observer may be nil.
func New(observer Observer, logger log.Log) *Correlator {
	if logger == nil {
		logger = log.Provide()
	}
	return &Correlator{
		pending:  make(map[uint64]*slot),
		observer: observer,
		logger:   logger.With(log.String("component", "correlator")),
	}
}

// Next returns the next request id. Ids start at 1 and never repeat within a session.
func (c *Correlator) Next() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// Register opens a slot for id that expires after timeout.
func (c *Correlator) Register(id uint64, kind protocol.CommandKind, timeout time.Duration) (*Pending, error) {
	if timeout <= 0 {
		return nil, protocol.ErrInvalidTimeout
	}
	if id == protocol.NotifyID {
		return nil, protocol.ErrDuplicateRequest
	}

	now := time.Now()
	s := &slot{
		id:       id,
		kind:     kind,
		sent:     now,
		deadline: now.Add(timeout),
		reply:    make(chan *protocol.Reply, 1),
		failed:   make(chan struct{}),
	}

	c.mu.Lock()
	if c.failErr != nil {
		err := c.failErr
		c.mu.Unlock()
		return nil, err
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return nil, protocol.ErrDuplicateRequest
	}
	c.pending[id] = s
	c.mu.Unlock()

	c.registered.Add(1)
	return &Pending{c: c, s: s}, nil
}

// Resolve delivers reply to its waiter. It reports false when the reply was dropped.
func (c *Correlator) Resolve(reply *protocol.Reply) bool {
	if reply == nil {
		return false
	}

	c.mu.Lock()
	s, ok := c.pending[reply.RequestID]
	if ok {
		delete(c.pending, reply.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.dropped.Add(1)
		if c.observer != nil {
			c.observer.ReplyDropped()
		}
		c.logger.Debug("Dropping unmatched reply", log.Uint64("request_id", reply.RequestID))
		return false
	}

	// Buffered and written once: the slot was removed from the table above.
	s.reply <- reply
	return true
}

// FailAll releases every waiter with err and rejects later registrations with it.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	if c.failErr == nil {
		c.failErr = err
	}
	slots := c.pending
	c.pending = make(map[uint64]*slot)
	c.mu.Unlock()

	for _, s := range slots {
		close(s.failed)
	}
	if len(slots) > 0 {
		c.logger.Debug("Released pending requests", log.Int("count", len(slots)), log.Error(err))
	}
}

// Len returns the number of requests awaiting a reply.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() Stats {
	return Stats{
		Registered: c.registered.Load(),
		Resolved:   c.resolved.Load(),
		TimedOut:   c.timedOut.Load(),
		Dropped:    c.dropped.Load(),
		Failed:     c.failed.Load(),
		InFlight:   c.Len(),
	}
}

// evict removes s if it is still live. It reports whether the caller now owns the outcome.
func (c *Correlator) evict(s *slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.pending[s.id]; ok && cur == s {
		delete(c.pending, s.id)
		return true
	}
	return false
}

func (c *Correlator) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failErr
}

// Pending is the caller's handle on one registered request.
type Pending struct {
	c *Correlator
	s *slot
}

// ID returns the request id.
func (p *Pending) ID() uint64 { return p.s.id }

// Deadline returns when the request times out.
func (p *Pending) Deadline() time.Time { return p.s.deadline }

// Cancel abandons the request; a later reply is dropped.
func (p *Pending) Cancel() {
	p.c.evict(p.s)
}

// Wait blocks until the reply arrives, the deadline passes, ctx ends or the table fails.
// It returns exactly one outcome.
func (p *Pending) Wait(ctx context.Context) (*protocol.Reply, error) {
	timer := time.NewTimer(time.Until(p.s.deadline))
	defer timer.Stop()

	select {
	case reply := <-p.s.reply:
		return p.resolved(reply), nil
	case <-p.s.failed:
		return nil, p.fail()
	case <-timer.C:
		if p.c.evict(p.s) {
			p.c.timedOut.Add(1)
			if p.c.observer != nil {
				p.c.observer.RequestTimedOut(p.s.kind)
			}
			return nil, &protocol.TimeoutError{
				RequestID: p.s.id,
				Kind:      p.s.kind,
				After:     p.s.deadline.Sub(p.s.sent),
			}
		}
		return p.settle()
	case <-ctx.Done():
		if p.c.evict(p.s) {
			if ctx.Err() == context.DeadlineExceeded {
				p.c.timedOut.Add(1)
				if p.c.observer != nil {
					p.c.observer.RequestTimedOut(p.s.kind)
				}
				return nil, &protocol.TimeoutError{
					RequestID: p.s.id,
					Kind:      p.s.kind,
					After:     time.Since(p.s.sent),
				}
			}
			p.c.failed.Add(1)
			if p.c.observer != nil {
				p.c.observer.RequestFailed(p.s.kind)
			}
			return nil, ctx.Err()
		}
		return p.settle()
	}
}

// settle collects an outcome that was decided concurrently with our own deadline.
func (p *Pending) settle() (*protocol.Reply, error) {
	select {
	case reply := <-p.s.reply:
		return p.resolved(reply), nil
	case <-p.s.failed:
		return nil, p.fail()
	}
}

func (p *Pending) resolved(reply *protocol.Reply) *protocol.Reply {
	p.c.resolved.Add(1)
	if p.c.observer != nil {
		p.c.observer.RequestResolved(p.s.kind, time.Since(p.s.sent))
	}
	return reply
}

func (p *Pending) fail() error {
	p.c.failed.Add(1)
	if p.c.observer != nil {
		p.c.observer.RequestFailed(p.s.kind)
	}
	err := p.c.failure()
	if err == nil {
		err = protocol.ErrClosed
	}
	return err
}
