package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/zeusync/worldlink/internal/core/protocol"
)

// streamBody is the byte stream under a framed conn: a TCP socket or a QUIC stream.
type streamBody interface {
	io.ReadWriter
	deadliner
}

// framedConn carries length-prefixed frames over a byte stream.
type framedConn struct {
	mode     Mode
	body     streamBody
	reader   *bufio.Reader
	closeFn  func() error
	local    net.Addr
	remote   net.Addr
	maxFrame int

	writeMu sync.Mutex
	readMu  sync.Mutex
	closed  int32 // atomic bool
}

func newFramedConn(mode Mode, body streamBody, local, remote net.Addr, maxFrame int, closeFn func() error) *framedConn {
	return &framedConn{
		mode:     mode,
		body:     body,
		reader:   bufio.NewReader(body),
		closeFn:  closeFn,
		local:    local,
		remote:   remote,
		maxFrame: maxFrame,
	}
}

func (c *framedConn) WriteMessage(ctx context.Context, msg []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return protocol.ErrClosed
	}
	if len(msg) > c.maxFrame {
		return protocol.ErrFrameTooLarge
	}

	frame, err := protocol.EncodeFrame(msg, c.maxFrame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindWrite(ctx, c.body)
	n, err := c.body.Write(frame)
	stop()
	if err != nil && n > 0 {
		// The peer would read the next frame's header from inside this one.
		_ = c.Close()
		return fmt.Errorf("%w: %d of %d bytes: %w", ErrPartialWrite, n, len(frame), ctxErr(ctx, err))
	}
	return c.wrap(ctx, err)
}

func (c *framedConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, protocol.ErrClosed
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	stop := bindRead(ctx, c.body)
	msg, err := protocol.ReadFrame(c.reader, c.maxFrame)
	stop()
	if err != nil {
		return nil, c.wrap(ctx, err)
	}
	return msg, nil
}

func (c *framedConn) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if atomic.LoadInt32(&c.closed) == 1 || errors.Is(err, net.ErrClosed) {
		return protocol.ErrClosed
	}
	return ctxErr(ctx, err)
}

func (c *framedConn) Mode() Mode           { return c.mode }
func (c *framedConn) LocalAddr() net.Addr  { return c.local }
func (c *framedConn) RemoteAddr() net.Addr { return c.remote }

func (c *framedConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.closeFn()
}
