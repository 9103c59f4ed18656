package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/correlator"
	"github.com/zeusync/worldlink/pkg/codec"
)

// ChannelOptions configure a Channel. Zero values are fine.
type ChannelOptions struct {
	Logger  log.Log
	Metrics *metrics.Metrics
}

// Channel owns a Conn and correlates replies to requests sent over it. A background goroutine
// reads replies until the conn fails or the channel is closed; at that point every waiter is
// released with the failure.
type Channel struct {
	conn       Conn
	codec      codec.Codec
	correlator *correlator.Correlator
	metrics    *metrics.Metrics
	logger     log.Log
	session    string

	closed    int32 // atomic bool
	closeOnce sync.Once
	readDone  chan struct{}
}

// NewChannel starts the receive loop on conn. The channel takes ownership of conn.
func NewChannel(conn Conn, cd codec.Codec, opts ChannelOptions) *Channel {
	if opts.Logger == nil {
		opts.Logger = log.Provide()
	}
	if cd == nil {
		cd = codec.JSON
	}
	session := uuid.NewString()
	logger := opts.Logger.With(
		log.String("component", "channel"),
		log.String("session_id", session),
		log.String("mode", string(conn.Mode())),
	)

	ch := &Channel{
		conn:       conn,
		codec:      cd,
		correlator: correlator.New(opts.Metrics, logger),
		metrics:    opts.Metrics,
		logger:     logger,
		session:    session,
		readDone:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch
}

// SendAndWait sends cmd and blocks until its reply arrives, timeout elapses or ctx ends,
// whichever comes first. The reply is returned even when it reports a remote error.
func (c *Channel) SendAndWait(ctx context.Context, cmd protocol.Command, timeout time.Duration) (*protocol.Reply, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, protocol.ErrClosed
	}
	if timeout <= 0 {
		return nil, protocol.ErrInvalidTimeout
	}

	id := c.correlator.Next()
	data, kind, err := c.encode(id, cmd)
	if err != nil {
		return nil, err
	}

	pending, err := c.correlator.Register(id, kind, timeout)
	if err != nil {
		return nil, err
	}
	c.metrics.RequestSent()

	if err = c.conn.WriteMessage(ctx, data); err != nil {
		pending.Cancel()
		c.metrics.RequestFailed(kind)
		c.metrics.SendFailed(kind)
		c.logger.Debug("Send failed", log.Uint64("request_id", id), log.String("kind", string(kind)), log.Error(err))
		return nil, c.sendError(err)
	}

	reply, err := pending.Wait(ctx)
	if err != nil {
		var te *protocol.TimeoutError
		if errors.As(err, &te) {
			c.logger.Debug("Request timed out",
				log.Uint64("request_id", id),
				log.String("kind", string(kind)),
				log.Duration("after", te.After))
		}
		return nil, err
	}
	return reply, nil
}

// SendOnly transmits cmd without waiting for, or expecting, a reply. Only local transmission
// failures are reported.
func (c *Channel) SendOnly(ctx context.Context, cmd protocol.Command) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrClosed
	}
	data, kind, err := c.encode(protocol.NotifyID, cmd)
	if err != nil {
		return err
	}
	if err = c.conn.WriteMessage(ctx, data); err != nil {
		c.metrics.SendFailed(kind)
		return c.sendError(err)
	}
	return nil
}

func (c *Channel) encode(id uint64, cmd protocol.Command) ([]byte, protocol.CommandKind, error) {
	env, err := protocol.Encode(c.codec, id, cmd)
	if err != nil {
		return nil, "", err
	}
	data, err := protocol.MarshalEnvelope(c.codec, env)
	if err != nil {
		return nil, "", protocol.NewProtocolError("encode envelope", err)
	}
	return data, env.Kind, nil
}

func (c *Channel) sendError(err error) error {
	switch {
	case errors.Is(err, ErrPartialWrite):
		return protocol.NewTransportError("write", err)
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, protocol.ErrClosed) && atomic.LoadInt32(&c.closed) == 1:
		return protocol.ErrClosed
	default:
		return protocol.NewTransportError("write", err)
	}
}

func (c *Channel) readLoop() {
	defer close(c.readDone)
	for {
		data, err := c.conn.ReadMessage(context.Background())
		if err != nil {
			if atomic.LoadInt32(&c.closed) == 1 {
				c.correlator.FailAll(protocol.ErrClosed)
				return
			}
			c.logger.Warn("Receive loop stopped", log.Error(err))
			c.correlator.FailAll(protocol.NewTransportError("read", err))
			return
		}

		reply, err := protocol.UnmarshalReply(c.codec, data)
		if err != nil {
			c.metrics.DecodeFailed()
			c.logger.Warn("Discarding undecodable message", log.Int("bytes", len(data)), log.Error(err))
			continue
		}
		c.correlator.Resolve(reply)
	}
}

// Close stops the receive loop and releases every waiter with ErrClosed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		err = c.conn.Close()
		<-c.readDone
		c.logger.Debug("Channel closed", log.Any("stats", c.correlator.Stats()))
	})
	return err
}

// Done is closed once the receive loop has stopped.
func (c *Channel) Done() <-chan struct{} { return c.readDone }

// Codec returns the codec used on this channel.
func (c *Channel) Codec() codec.Codec { return c.codec }

// Conn returns the underlying connection.
func (c *Channel) Conn() Conn { return c.conn }

// SessionID identifies this channel in logs.
func (c *Channel) SessionID() string { return c.session }

// Stats returns the correlator counters.
func (c *Channel) Stats() correlator.Stats { return c.correlator.Stats() }
