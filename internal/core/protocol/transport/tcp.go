package transport

import (
	"context"
	"net"
	"sync/atomic"
)

func dialTCP(ctx context.Context, ep Endpoint, opts Options) (Conn, error) {
	d := net.Dialer{KeepAlive: opts.KeepAlive}
	nc, err := d.DialContext(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, err
	}
	return newTCPConn(nc, opts), nil
}

func newTCPConn(nc net.Conn, opts Options) *framedConn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return newFramedConn(ModeTCP, nc, nc.LocalAddr(), nc.RemoteAddr(), opts.MaxFrameSize, nc.Close)
}

type tcpListener struct {
	ln     net.Listener
	opts   Options
	closed int32 // atomic bool
}

func listenTCP(ctx context.Context, ep Endpoint, opts Options) (Listener, error) {
	lc := net.ListenConfig{KeepAlive: opts.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", ep.Address)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln, opts: opts}, nil
}

// Accept waits for the next connection. The listener is closed when ctx ends.
func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, ErrListenerClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	nc, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if atomic.LoadInt32(&l.closed) == 1 {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return newTCPConn(nc, l.opts), nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }
func (l *tcpListener) Mode() Mode     { return ModeTCP }

func (l *tcpListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	return l.ln.Close()
}
