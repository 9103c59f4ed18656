package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/worldlink/internal/core/observability/log"
)

const (
	quicIdleTimeout = 30 * time.Second
	quicCloseCode   = quic.ApplicationErrorCode(0)
)

// GenerateSelfSignedTLS returns a server TLS config with a fresh certificate for localhost.
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"worldlink"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig accepts any server certificate. It is meant for the self-signed reference
// authority; pass a verifying config in Options.TLSConfig for anything else.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // development authority uses a self-signed cert
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
}

func withALPN(cfg *tls.Config) *tls.Config {
	for _, p := range cfg.NextProtos {
		if p == ALPN {
			return cfg
		}
	}
	cfg = cfg.Clone()
	cfg.NextProtos = append(cfg.NextProtos, ALPN)
	return cfg
}

func quicConfig(opts Options) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: opts.KeepAlive,
	}
}

func dialQUIC(ctx context.Context, ep Endpoint, opts Options) (Conn, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = ClientTLSConfig()
	}
	qc, err := quic.DialAddr(ctx, ep.Address, withALPN(tlsConfig), quicConfig(opts))
	if err != nil {
		return nil, err
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(quicCloseCode, "stream open failed")
		return nil, err
	}
	return newQUICConn(qc, stream, opts), nil
}

func newQUICConn(qc *quic.Conn, stream *quic.Stream, opts Options) *framedConn {
	return newFramedConn(ModeQUIC, stream, qc.LocalAddr(), qc.RemoteAddr(), opts.MaxFrameSize, func() error {
		_ = stream.Close()
		return qc.CloseWithError(quicCloseCode, "closed")
	})
}

// quicListener accepts QUIC connections and hands out the first bidirectional stream of each.
type quicListener struct {
	ln     *quic.Listener
	opts   Options
	queue  *acceptQueue
	logger log.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed int32 // atomic bool
}

func listenQUIC(_ context.Context, ep Endpoint, opts Options) (Listener, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		generated, err := GenerateSelfSignedTLS()
		if err != nil {
			return nil, err
		}
		tlsConfig = generated
	}
	ln, err := quic.ListenAddr(ep.Address, withALPN(tlsConfig), quicConfig(opts))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:     ln,
		opts:   opts,
		queue:  newAcceptQueue(),
		logger: opts.Logger.With(log.String("component", "quic_listener")),
		ctx:    ctx,
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *quicListener) acceptLoop() {
	defer l.wg.Done()
	for {
		qc, err := l.ln.Accept(l.ctx)
		if err != nil {
			if atomic.LoadInt32(&l.closed) == 0 {
				l.logger.Error("Failed to accept QUIC connection", log.Error(err))
			}
			return
		}
		l.wg.Add(1)
		go l.awaitStream(qc)
	}
}

// awaitStream waits for the client to open its stream; the stream becomes visible with
// the first frame the client writes.
func (l *quicListener) awaitStream(qc *quic.Conn) {
	defer l.wg.Done()
	stream, err := qc.AcceptStream(l.ctx)
	if err != nil {
		_ = qc.CloseWithError(quicCloseCode, "no stream")
		l.logger.Debug("QUIC connection closed before opening a stream",
			log.String("remote_addr", qc.RemoteAddr().String()), log.Error(err))
		return
	}
	c := newQUICConn(qc, stream, l.opts)
	if !l.queue.push(c) {
		_ = c.Close()
	}
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	return l.queue.accept(ctx)
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }
func (l *quicListener) Mode() Mode     { return ModeQUIC }

func (l *quicListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	l.cancel()
	err := l.ln.Close()
	l.queue.close()
	l.wg.Wait()
	return err
}
