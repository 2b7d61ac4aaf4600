// Package server runs an OBEX listening endpoint: it accepts transports from
// a Notifier and drives one session.Server per connection.
package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/observability"
	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// HandlerFactory builds the handler for one accepted session.
type HandlerFactory func() session.Handler

type ServiceConfig struct {
	Name      string
	Kind      transport.Kind
	Addr      string
	Transport transport.Options
	Session   session.Config
	// Permission and Token gate Listen; Admit gates each accepted remote.
	Permission auth.Checker
	Token      string
	Admit      auth.Checker
	// Observer sees every byte crossing accepted transports.
	Observer transport.Observer
	// MaxSessions bounds concurrent sessions; zero is unbounded.
	MaxSessions int
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:    "obexd",
		Kind:    transport.KindTCP,
		Addr:    "127.0.0.1:650",
		Session: session.DefaultConfig(),
	}
}

// SessionInfo is the observed state of one accepted session.
type SessionInfo struct {
	ID        uint64    `json:"id"`
	Kind      string    `json:"kind"`
	Remote    string    `json:"remote"`
	StartedAt time.Time `json:"started_at"`
	LastOp    string    `json:"last_op,omitempty"`
	LastCode  string    `json:"last_code,omitempty"`
	Requests  uint64    `json:"requests"`
	Bytes     int64     `json:"bytes"`
	Connected bool      `json:"connected"`
}

type tracked struct {
	mu   sync.Mutex
	info SessionInfo
	t    transport.Transport
	srv  *session.Server
}

func (tr *tracked) observe(r session.Report) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.info.Requests++
	tr.info.Bytes += r.Bytes
	tr.info.LastOp = r.Op.String()
	if r.Code != 0 {
		tr.info.LastCode = r.Code.String()
	}
}

func (tr *tracked) snapshot() SessionInfo {
	tr.mu.Lock()
	info := tr.info
	srv := tr.srv
	tr.mu.Unlock()
	if srv != nil {
		info.Connected = srv.Connected()
	}
	return info
}

// Service owns one Notifier and every session accepted from it.
type Service struct {
	cfg      ServiceConfig
	handlers HandlerFactory
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[uint64]*tracked
	notifier transport.Notifier

	nextID  atomic.Uint64
	active  atomic.Int64
	total   atomic.Uint64
	ready   atomic.Bool
	started time.Time
}

func NewService(cfg ServiceConfig, handlers HandlerFactory) *Service {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = DefaultServiceConfig().Name
	}
	if cfg.Kind == transport.KindUnknown {
		cfg.Kind = transport.KindTCP
	}
	if handlers == nil {
		handlers = func() session.Handler { return session.BaseHandler{} }
	}
	return &Service{
		cfg:      cfg,
		handlers: handlers,
		logger:   log.With().Str("service", cfg.Name).Logger(),
		sessions: make(map[uint64]*tracked),
		started:  time.Now(),
	}
}

func (s *Service) Name() string { return s.cfg.Name }

// Listen binds the configured notifier after the permission check.
func (s *Service) Listen() (transport.Notifier, error) {
	return transport.Listen(s.cfg.Kind, s.cfg.Addr, s.cfg.Transport, s.cfg.Permission, s.cfg.Token)
}

// Run listens and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	n, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, n)
}

// Serve accepts sessions from n until ctx is done or n fails. It closes n and
// every open session on return, and waits for session goroutines to finish.
func (s *Service) Serve(ctx context.Context, n transport.Notifier) error {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
	s.ready.Store(true)
	defer s.ready.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		_ = n.Close()
		s.closeAll()
	})
	defer stop()

	s.logger.Info().Str("kind", n.Kind().String()).Str("addr", n.Addr()).Msg("obex_listening")

	g.Go(func() error {
		defer cancel()
		for {
			t, err := n.Accept(gctx)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, protocol.ErrConnectionClosed) {
					return nil
				}
				s.logger.Error().Err(err).Msg("obex_accept_failed")
				return err
			}
			if !s.admit(t) {
				continue
			}
			tr := s.track(t)
			g.Go(func() error {
				s.handle(gctx, tr)
				return nil
			})
		}
	})
	err := g.Wait()
	s.closeAll()
	s.logger.Info().Uint64("sessions_total", s.total.Load()).Msg("obex_stopped")
	return err
}

// admit runs the Admit check and reserves an active slot. A true result
// must be paired with release.
func (s *Service) admit(t transport.Transport) bool {
	if s.cfg.Admit != nil {
		req := auth.Request{Role: auth.RoleServer, Scheme: t.Kind().String(), Address: t.RemoteAddr()}
		if err := s.cfg.Admit.Check(req); err != nil {
			s.logger.Warn().Str("remote", t.RemoteAddr()).Err(err).Msg("obex_session_rejected")
			_ = t.Close()
			return false
		}
	}
	if !s.reserve() {
		s.logger.Warn().Str("remote", t.RemoteAddr()).Int("max_sessions", s.cfg.MaxSessions).Msg("obex_session_rejected")
		_ = t.Close()
		return false
	}
	return true
}

func (s *Service) reserve() bool {
	limit := int64(s.cfg.MaxSessions)
	for {
		cur := s.active.Load()
		if limit > 0 && cur >= limit {
			return false
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *Service) release() int64 {
	return s.active.Add(-1)
}

func (s *Service) track(t transport.Transport) *tracked {
	id := s.nextID.Add(1)
	tr := &tracked{
		t: t,
		info: SessionInfo{
			ID:        id,
			Kind:      t.Kind().String(),
			Remote:    t.RemoteAddr(),
			StartedAt: time.Now(),
		},
	}
	s.mu.Lock()
	s.sessions[id] = tr
	s.mu.Unlock()
	return tr
}

func (s *Service) untrack(tr *tracked) {
	s.mu.Lock()
	delete(s.sessions, tr.info.ID)
	s.mu.Unlock()
}

func (s *Service) handle(ctx context.Context, tr *tracked) {
	cfg := s.cfg.Session
	next := cfg.Reporter
	cfg.Reporter = session.ReporterFunc(func(r session.Report) {
		tr.observe(r)
		if next != nil {
			next.Report(r)
		}
	})
	srv := session.NewServer(transport.Monitor(tr.t, s.cfg.Observer), s.handlers(), cfg)
	tr.mu.Lock()
	tr.srv = srv
	tr.mu.Unlock()

	defer s.untrack(tr)
	defer srv.Close()

	active := s.active.Load()
	s.total.Add(1)
	info := tr.snapshot()
	s.logger.Info().Uint64("session", info.ID).Str("remote", info.Remote).Int64("active_sessions", active).Msg("obex_session_opened")
	observability.RecordSessionOpened(s.cfg.Name, info.Kind)
	defer func() {
		remaining := s.release()
		info := tr.snapshot()
		s.logger.Info().
			Uint64("session", info.ID).
			Str("remote", info.Remote).
			Uint64("requests", info.Requests).
			Dur("duration", time.Since(info.StartedAt)).
			Int64("active_sessions", remaining).
			Msg("obex_session_closed")
		observability.RecordSessionClosed(s.cfg.Name, info.Kind)
	}()

	if err := srv.Serve(ctx); err != nil {
		if errors.Is(err, protocol.ErrConnectionClosed) {
			s.logger.Debug().Uint64("session", info.ID).Err(err).Msg("obex_session_hangup")
			return
		}
		s.logger.Warn().Uint64("session", info.ID).Err(err).Msg("obex_session_failed")
	}
}

func (s *Service) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.sessions {
		_ = tr.t.Close()
	}
}

// Sessions returns the open sessions ordered by id.
func (s *Service) Sessions() []SessionInfo {
	s.mu.Lock()
	list := make([]*tracked, 0, len(s.sessions))
	for _, tr := range s.sessions {
		list = append(list, tr)
	}
	s.mu.Unlock()

	out := make([]SessionInfo, 0, len(list))
	for _, tr := range list {
		out = append(out, tr.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ready reports whether the accept loop is running.
func (s *Service) Ready() bool { return s.ready.Load() }

func (s *Service) ActiveSessions() int64 { return s.active.Load() }

func (s *Service) TotalSessions() uint64 { return s.total.Load() }

func (s *Service) Uptime() time.Duration { return time.Since(s.started) }

// Addr is the bound address, empty before Serve.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notifier == nil {
		return ""
	}
	return s.notifier.Addr()
}
