package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/pkg/codec"
)

var ErrServerRunning = errors.New("authority: server already running")

// Config describes one authority process.
type Config struct {
	Endpoints  []transport.Endpoint
	Codec      codec.Codec
	Transport  transport.Options
	ShardCount int
	// RateLimit caps commands per RateWindow and session; zero disables the limit.
	RateLimit  int
	RateWindow time.Duration
}

// DefaultConfig listens on every mode at consecutive localhost ports starting at 7400.
func DefaultConfig() Config {
	return Config{
		Endpoints: []transport.Endpoint{
			{Mode: transport.ModeUDP, Address: "127.0.0.1:7400"},
			{Mode: transport.ModeTCP, Address: "127.0.0.1:7401"},
			{Mode: transport.ModeWebSocket, Address: "127.0.0.1:7402", Path: transport.DefaultWebSocketPath},
			{Mode: transport.ModeQUIC, Address: "127.0.0.1:7403"},
		},
		Codec:      codec.JSON,
		Transport:  transport.DefaultOptions(),
		ShardCount: defaultShardCount,
		RateWindow: time.Second,
	}
}

// Server accepts connections on every configured endpoint and answers envelopes from one
// shared Store. Each envelope is handled on its own goroutine, so replies may leave out of order.
type Server struct {
	cfg         Config
	handler     *Handler
	middlewares []Middleware
	logger      log.Log

	mu        sync.Mutex
	listeners []transport.Listener
	cancel    context.CancelFunc
	running   int32

	conns sync.WaitGroup
}

// NewServer creates a server with the logging and metrics middlewares installed, plus the rate
// limiter when cfg.RateLimit is positive. m may be nil.
func NewServer(cfg Config, logger log.Log, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = log.Provide()
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON
	}
	cfg.Transport.Logger = logger

	store := NewStore(cfg.ShardCount)
	s := &Server{
		cfg:     cfg,
		handler: NewHandler(store, cfg.Codec, logger),
		logger:  logger.With(log.String("component", "authority")),
	}
	s.Use(NewLoggingMiddleware(logger), NewMetricsMiddleware(m, store))
	if cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		s.Use(NewRateLimitMiddleware(cfg.RateLimit, window, logger))
	}
	return s
}

// Use installs middlewares. It must be called before Listen.
func (s *Server) Use(mws ...Middleware) {
	s.middlewares = append(s.middlewares, mws...)
	sortMiddlewares(s.middlewares)
}

// Store returns the world served by s.
func (s *Server) Store() *Store { return s.handler.Store() }

// Listen binds every endpoint. On failure nothing stays bound.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) > 0 {
		return ErrServerRunning
	}
	if len(s.cfg.Endpoints) == 0 {
		return errors.New("authority: no endpoints configured")
	}

	listeners := make([]transport.Listener, 0, len(s.cfg.Endpoints))
	for _, ep := range s.cfg.Endpoints {
		l, err := transport.Listen(ctx, ep, s.cfg.Transport)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return fmt.Errorf("listen %s: %w", ep, err)
		}
		s.logger.Info("Listening",
			log.String("mode", string(ep.Mode)),
			log.String("address", l.Addr().String()),
			log.String("codec", s.cfg.Codec.Name()))
		listeners = append(listeners, l)
	}
	s.listeners = listeners
	return nil
}

// Endpoint returns the bound endpoint for mode, with the port the OS picked.
func (s *Server) Endpoint(mode transport.Mode) (transport.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.Mode() == mode {
			ep := transport.Endpoint{Mode: mode, Address: l.Addr().String()}
			if mode == transport.ModeWebSocket {
				ep.Path = s.cfg.Endpoints[i].Path
			}
			return ep, true
		}
	}
	return transport.Endpoint{}, false
}

// Serve accepts connections until ctx ends, then closes the listeners and waits for every
// connection to finish. Listen must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	listeners := s.listeners
	s.cancel = cancel
	s.mu.Unlock()
	if len(listeners) == 0 {
		return errors.New("authority: Serve called before Listen")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error { return s.acceptLoop(gctx, l) })
	}
	g.Go(func() error {
		<-gctx.Done()
		s.closeListeners()
		return nil
	})

	err := g.Wait()
	s.conns.Wait()
	s.logger.Info("Authority stopped", log.Int("entities", s.Store().Len()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run binds every endpoint and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close stops the server. Serve returns once open connections drain.
func (s *Server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeListeners()
	return nil
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			s.logger.Debug("Listener close failed", log.String("mode", string(l.Mode())), log.Error(err))
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, l transport.Listener) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			return fmt.Errorf("accept %s: %w", l.Mode(), err)
		}
		s.conns.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn transport.Conn) {
	defer s.conns.Done()

	session := &Session{
		ID:          uuid.NewString(),
		Mode:        conn.Mode(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
	}
	for _, mw := range s.middlewares {
		mw.OnConnect(ctx, session)
	}

	var inflight sync.WaitGroup
	reason := "closed"
	for {
		data, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reason = "shutdown"
			} else if !errors.Is(err, protocol.ErrClosed) {
				reason = err.Error()
			}
			break
		}
		env, err := protocol.UnmarshalEnvelope(s.cfg.Codec, data)
		if err != nil {
			s.logger.Warn("Discarding undecodable envelope",
				log.String("session_id", session.ID),
				log.Int("bytes", len(data)),
				log.Error(err))
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.handle(ctx, conn, session, env)
		}()
	}

	inflight.Wait()
	_ = conn.Close()
	for _, mw := range s.middlewares {
		mw.OnDisconnect(ctx, session, reason)
	}
}

func (s *Server) handle(ctx context.Context, conn transport.Conn, session *Session, env *protocol.Envelope) {
	start := time.Now()

	var reply *protocol.Reply
	var rejected bool
	for _, mw := range s.middlewares {
		if err := mw.BeforeHandle(ctx, session, env); err != nil {
			rejected = true
			if !env.IsNotify() {
				reply = protocol.NewErrorReply(env.RequestID, rejection(err))
			}
			break
		}
	}
	if !rejected {
		reply = s.handler.Handle(ctx, env)
	}

	took := time.Since(start)
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		s.middlewares[i].AfterHandle(ctx, session, env, reply, took)
	}
	if reply == nil {
		return
	}

	data, err := protocol.MarshalReply(s.cfg.Codec, reply)
	if err != nil {
		s.logger.Error("Failed to encode reply", log.Uint64("request_id", env.RequestID), log.Error(err))
		return
	}
	if err = conn.WriteMessage(ctx, data); err != nil {
		s.logger.Debug("Failed to send reply",
			log.String("session_id", session.ID),
			log.Uint64("request_id", env.RequestID),
			log.Error(err))
	}
}

func rejection(err error) *protocol.ErrorDescriptor {
	var re *protocol.RemoteError
	if errors.As(err, &re) {
		return &protocol.ErrorDescriptor{Code: re.Code, Message: re.Message, Entity: re.Entity}
	}
	return &protocol.ErrorDescriptor{Code: protocol.CodeInternal, Message: err.Error()}
}
