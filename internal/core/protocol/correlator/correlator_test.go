package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/pkg/codec"
)

func newCorrelator() *Correlator {
	return New(nil, log.NewNop())
}

func reply(id uint64, body string) *protocol.Reply {
	return &protocol.Reply{RequestID: id, OK: true, Result: codec.Raw(body)}
}

func TestNextIsMonotonicFromOne(t *testing.T) {
	c := newCorrelator()
	assert.Equal(t, uint64(1), c.Next())
	assert.Equal(t, uint64(2), c.Next())
	assert.Equal(t, uint64(3), c.Next())

	other := newCorrelator()
	assert.Equal(t, uint64(1), other.Next())
}

func TestRegisterValidation(t *testing.T) {
	c := newCorrelator()

	_, err := c.Register(1, protocol.KindList, 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidTimeout)
	_, err = c.Register(1, protocol.KindList, -time.Second)
	assert.ErrorIs(t, err, protocol.ErrInvalidTimeout)

	_, err = c.Register(1, protocol.KindList, time.Second)
	require.NoError(t, err)
	_, err = c.Register(1, protocol.KindList, time.Second)
	assert.ErrorIs(t, err, protocol.ErrDuplicateRequest)

	_, err = c.Register(protocol.NotifyID, protocol.KindList, time.Second)
	assert.ErrorIs(t, err, protocol.ErrDuplicateRequest)
	assert.Equal(t, 1, c.Len())
}

func TestResolveDeliversReply(t *testing.T) {
	c := newCorrelator()
	id := c.Next()
	p, err := c.Register(id, protocol.KindSpawn, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID())

	assert.True(t, c.Resolve(reply(id, `{"entity":"1"}`)))
	assert.False(t, c.Resolve(reply(id, `{"entity":"dup"}`)), "second reply for the same id is dropped")

	got, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, codec.Raw(`{"entity":"1"}`), got.Result)
	assert.Zero(t, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Resolved)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestUnknownReplyIsDropped(t *testing.T) {
	c := newCorrelator()
	assert.False(t, c.Resolve(reply(42, `{}`)))
	assert.False(t, c.Resolve(nil))
	assert.Equal(t, uint64(1), c.Stats().Dropped)
}

func TestTimeoutThenLateReplyIsDropped(t *testing.T) {
	c := newCorrelator()
	id := c.Next()
	p, err := c.Register(id, protocol.KindList, 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Wait(context.Background())
	elapsed := time.Since(start)

	var te *protocol.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, id, te.RequestID)
	assert.Equal(t, protocol.KindList, te.Kind)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Zero(t, c.Len())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.Resolve(reply(id, `{}`)))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.TimedOut)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Zero(t, stats.Resolved)
}

func TestConcurrentOutOfOrderCorrelation(t *testing.T) {
	c := newCorrelator()
	const n = 200

	pendings := make([]*Pending, n)
	for i := range pendings {
		p, err := c.Register(c.Next(), protocol.KindUpdate, 5*time.Second)
		require.NoError(t, err)
		pendings[i] = p
	}

	var g errgroup.Group
	for _, p := range pendings {
		p := p
		g.Go(func() error {
			r, err := p.Wait(context.Background())
			if err != nil {
				return err
			}
			if r.RequestID != p.ID() {
				return errors.New("reply delivered to the wrong waiter")
			}
			return nil
		})
	}

	for i := n - 1; i >= 0; i-- {
		id := pendings[i].ID()
		go c.Resolve(reply(id, `{}`))
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(n), c.Stats().Resolved)
	assert.Zero(t, c.Len())
}

func TestTimeoutIsolation(t *testing.T) {
	c := newCorrelator()
	short, err := c.Register(c.Next(), protocol.KindList, 30*time.Millisecond)
	require.NoError(t, err)
	long, err := c.Register(c.Next(), protocol.KindSpawn, 2*time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	var shortErr, longErr error
	go func() {
		defer wg.Done()
		_, shortErr = short.Wait(context.Background())
	}()
	go func() {
		defer wg.Done()
		_, longErr = long.Wait(context.Background())
	}()

	time.Sleep(80 * time.Millisecond)
	assert.True(t, c.Resolve(reply(long.ID(), `{"entity":"9"}`)))
	wg.Wait()

	assert.ErrorIs(t, shortErr, protocol.ErrTimeout)
	assert.NoError(t, longErr)
}

func TestFailAllReleasesWaiters(t *testing.T) {
	c := newCorrelator()
	cause := protocol.NewTransportError("read", errors.New("connection reset"))

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		p, err := c.Register(c.Next(), protocol.KindList, 5*time.Second)
		require.NoError(t, err)
		g.Go(func() error {
			_, err := p.Wait(context.Background())
			return err
		})
	}

	time.Sleep(10 * time.Millisecond)
	c.FailAll(cause)
	err := g.Wait()
	assert.ErrorIs(t, err, protocol.ErrTransport)
	assert.Zero(t, c.Len())

	_, err = c.Register(c.Next(), protocol.KindList, time.Second)
	assert.ErrorIs(t, err, protocol.ErrTransport)
}

func TestContextEndsWait(t *testing.T) {
	c := newCorrelator()

	p, err := c.Register(c.Next(), protocol.KindList, 5*time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Len())

	p, err = c.Register(c.Next(), protocol.KindList, 5*time.Second)
	require.NoError(t, err)
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, protocol.ErrTimeout)
}

func TestCancelDropsLaterReply(t *testing.T) {
	c := newCorrelator()
	p, err := c.Register(c.Next(), protocol.KindSpawn, time.Second)
	require.NoError(t, err)
	p.Cancel()
	assert.False(t, c.Resolve(reply(p.ID(), `{}`)))
}

type countingObserver struct {
	mu                                  sync.Mutex
	resolved, timedOut, failed, dropped int
}

func (o *countingObserver) RequestResolved(protocol.CommandKind, time.Duration) {
	o.mu.Lock()
	o.resolved++
	o.mu.Unlock()
}

func (o *countingObserver) RequestTimedOut(protocol.CommandKind) {
	o.mu.Lock()
	o.timedOut++
	o.mu.Unlock()
}

func (o *countingObserver) RequestFailed(protocol.CommandKind) {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}

func (o *countingObserver) ReplyDropped() {
	o.mu.Lock()
	o.dropped++
	o.mu.Unlock()
}

func TestObserverSeesLifecycle(t *testing.T) {
	obs := &countingObserver{}
	c := New(obs, log.NewNop())

	p, err := c.Register(c.Next(), protocol.KindSpawn, time.Second)
	require.NoError(t, err)
	c.Resolve(reply(p.ID(), `{}`))
	_, err = p.Wait(context.Background())
	require.NoError(t, err)

	p, err = c.Register(c.Next(), protocol.KindList, 5*time.Millisecond)
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.Error(t, err)
	c.Resolve(reply(p.ID(), `{}`))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.resolved)
	assert.Equal(t, 1, obs.timedOut)
	assert.Equal(t, 1, obs.dropped)
}
