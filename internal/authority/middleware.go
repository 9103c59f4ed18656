package authority

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/observability/metrics"
	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
)

// Session describes one connected client.
type Session struct {
	ID          string
	Mode        transport.Mode
	RemoteAddr  string
	ConnectedAt time.Time
}

// Middleware observes or vetoes envelopes around the handler. Middlewares run by descending
// Priority before the handler and in reverse order after it.
type Middleware interface {
	Name() string
	Priority() uint16
	// BeforeHandle rejects the envelope when it returns an error. A *protocol.RemoteError keeps
	// its code in the reply; anything else is reported as internal.
	BeforeHandle(ctx context.Context, s *Session, env *protocol.Envelope) error
	AfterHandle(ctx context.Context, s *Session, env *protocol.Envelope, reply *protocol.Reply, took time.Duration)
	OnConnect(ctx context.Context, s *Session)
	OnDisconnect(ctx context.Context, s *Session, reason string)
}

func sortMiddlewares(mws []Middleware) {
	sort.SliceStable(mws, func(i, j int) bool { return mws[i].Priority() > mws[j].Priority() })
}

func replyResult(env *protocol.Envelope, reply *protocol.Reply) string {
	switch {
	case env.IsNotify():
		return "notify"
	case reply == nil:
		return "none"
	case reply.OK:
		return "ok"
	case reply.Error != nil:
		return string(reply.Error.Code)
	default:
		return "error"
	}
}

// LoggingMiddleware logs connections and handled envelopes.
type LoggingMiddleware struct {
	logger log.Log
}

func NewLoggingMiddleware(logger log.Log) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With(log.String("component", "middleware"), log.String("middleware", "logging"))}
}

func (m *LoggingMiddleware) Name() string     { return "logging" }
func (m *LoggingMiddleware) Priority() uint16 { return 1000 }

func (m *LoggingMiddleware) BeforeHandle(_ context.Context, s *Session, env *protocol.Envelope) error {
	m.logger.Debug("Processing envelope",
		log.String("session_id", s.ID),
		log.String("kind", string(env.Kind)),
		log.Uint64("request_id", env.RequestID),
		log.String("remote_addr", s.RemoteAddr),
	)
	return nil
}

func (m *LoggingMiddleware) AfterHandle(_ context.Context, s *Session, env *protocol.Envelope, reply *protocol.Reply, took time.Duration) {
	fields := []log.Field{
		log.String("session_id", s.ID),
		log.String("kind", string(env.Kind)),
		log.Uint64("request_id", env.RequestID),
		log.String("result", replyResult(env, reply)),
		log.Duration("took", took),
	}
	if reply != nil && !reply.OK && reply.Error != nil && reply.Error.Code == protocol.CodeInternal {
		m.logger.Error("Envelope handling failed", append(fields, log.String("message", reply.Error.Message))...)
		return
	}
	m.logger.Debug("Envelope handled", fields...)
}

func (m *LoggingMiddleware) OnConnect(_ context.Context, s *Session) {
	m.logger.Info("Client connected",
		log.String("session_id", s.ID),
		log.String("mode", string(s.Mode)),
		log.String("remote_addr", s.RemoteAddr),
	)
}

func (m *LoggingMiddleware) OnDisconnect(_ context.Context, s *Session, reason string) {
	m.logger.Info("Client disconnected",
		log.String("session_id", s.ID),
		log.String("remote_addr", s.RemoteAddr),
		log.String("reason", reason),
		log.Duration("duration", time.Since(s.ConnectedAt)),
	)
}

// MetricsMiddleware records handled commands and open connections.
type MetricsMiddleware struct {
	metrics *metrics.Metrics
	store   *Store
}

func NewMetricsMiddleware(m *metrics.Metrics, store *Store) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: m, store: store}
}

func (m *MetricsMiddleware) Name() string     { return "metrics" }
func (m *MetricsMiddleware) Priority() uint16 { return 100 }

func (m *MetricsMiddleware) BeforeHandle(context.Context, *Session, *protocol.Envelope) error {
	return nil
}

func (m *MetricsMiddleware) AfterHandle(_ context.Context, _ *Session, env *protocol.Envelope, reply *protocol.Reply, took time.Duration) {
	m.metrics.CommandHandled(env.Kind, replyResult(env, reply), took)
	if m.store != nil {
		m.metrics.SetEntities(m.store.Len())
	}
}

func (m *MetricsMiddleware) OnConnect(_ context.Context, s *Session) {
	m.metrics.ConnectionOpened(string(s.Mode))
}

func (m *MetricsMiddleware) OnDisconnect(_ context.Context, s *Session, _ string) {
	m.metrics.ConnectionClosed(string(s.Mode))
}

// RateLimitMiddleware rejects envelopes beyond limit per window and session.
type RateLimitMiddleware struct {
	logger  log.Log
	limit   int
	window  time.Duration
	clients sync.Map // session id -> *clientRateLimit
}

type clientRateLimit struct {
	mu     sync.Mutex
	count  int
	window time.Time
}

func NewRateLimitMiddleware(limit int, window time.Duration, logger log.Log) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		logger: logger.With(log.String("component", "middleware"), log.String("middleware", "rate_limit")),
		limit:  limit,
		window: window,
	}
}

func (m *RateLimitMiddleware) Name() string     { return "rate_limit" }
func (m *RateLimitMiddleware) Priority() uint16 { return 800 }

func (m *RateLimitMiddleware) BeforeHandle(_ context.Context, s *Session, env *protocol.Envelope) error {
	now := time.Now()
	v, _ := m.clients.LoadOrStore(s.ID, &clientRateLimit{window: now})
	cl := v.(*clientRateLimit)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if now.Sub(cl.window) > m.window {
		cl.count = 0
		cl.window = now
	}
	if cl.count >= m.limit {
		m.logger.Warn("Rate limit exceeded",
			log.String("session_id", s.ID),
			log.String("kind", string(env.Kind)),
			log.Int("count", cl.count),
			log.Int("limit", m.limit),
		)
		return &protocol.RemoteError{
			Code:    protocol.CodeRateLimited,
			Message: fmt.Sprintf("more than %d commands per %s", m.limit, m.window),
		}
	}
	cl.count++
	return nil
}

func (m *RateLimitMiddleware) AfterHandle(context.Context, *Session, *protocol.Envelope, *protocol.Reply, time.Duration) {
}

func (m *RateLimitMiddleware) OnConnect(_ context.Context, s *Session) {
	m.clients.Store(s.ID, &clientRateLimit{window: time.Now()})
}

func (m *RateLimitMiddleware) OnDisconnect(_ context.Context, s *Session, _ string) {
	m.clients.Delete(s.ID)
}
