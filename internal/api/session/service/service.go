package sessionService

import (
	"errors"
	"sort"
	"sync"
	"time"

	"EmotionOverlay/internal/api/session"
	"EmotionOverlay/internal/detection"
	"EmotionOverlay/internal/model"
	contextPkg "EmotionOverlay/pkg/context"
	"EmotionOverlay/pkg/log"
	"EmotionOverlay/pkg/redis"
	"EmotionOverlay/pkg/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

type ISessionService interface {
	Open(ctx context.Context, transport Transport) (*Connection, error)
	Get(id string) (*Connection, error)
	List(ctx context.Context) []session.SessionResponse
	Describe(ctx context.Context, id string) (session.SessionResponse, error)
	Toggle(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Close(ctx context.Context, id string)
	Shutdown()
}

// RuntimeFactory opens the inference runtime for one session.
type RuntimeFactory func(log *logrus.Entry) model.Runtime

type Config struct {
	LocalModelBase  string
	RemoteModelBase string
	Session         detection.Config
	CameraTimeout   time.Duration
	StatusTTL       time.Duration
}

func DefaultConfig() Config {
	return Config{
		LocalModelBase:  model.DefaultLocalBase,
		RemoteModelBase: model.DefaultRemoteBase,
		Session:         detection.DefaultConfig(),
		CameraTimeout:   15 * time.Second,
		StatusTTL:       10 * time.Minute,
	}
}

type sessionService struct {
	log        *logrus.Logger
	cfg        Config
	newRuntime RuntimeFactory
	fetcher    model.ManifestFetcher
	redis      redis.IRedis
	utils      utils.IUtils

	mu          sync.RWMutex
	connections map[string]*Connection
}

type Option func(*sessionService)

func WithManifestFetcher(f model.ManifestFetcher) Option {
	return func(s *sessionService) {
		s.fetcher = f
	}
}

// WithStatusCache mirrors every status line to redis. A nil cache disables it.
func WithStatusCache(r redis.IRedis) Option {
	return func(s *sessionService) {
		s.redis = r
	}
}

func New(
	log *logrus.Logger,
	cfg Config,
	newRuntime RuntimeFactory,
	u utils.IUtils,
	options ...Option,
) ISessionService {
	s := &sessionService{
		log:         log,
		cfg:         cfg,
		newRuntime:  newRuntime,
		utils:       u,
		fetcher:     model.NewHTTPFetcher(10 * time.Second),
		connections: make(map[string]*Connection),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *sessionService) Open(ctx context.Context, transport Transport) (*Connection, error) {
	id, err := s.utils.NewULIDFromTimestamp(time.Now())
	if err != nil {
		return nil, err
	}

	entry := log.WithSession(s.log, id).WithField(log.RequestIDKey, contextPkg.GetRequestID(ctx))

	browser := newBrowserClient(id, transport, s.utils, s.redis, s.cfg, entry)
	runtime := s.newRuntime(entry)

	// loader status lines go through the session so it keeps the last one
	var sess *detection.Session
	loader, err := model.NewLoader(runtime,
		model.WithLocalBase(s.cfg.LocalModelBase),
		model.WithRemoteBase(s.cfg.RemoteModelBase),
		model.WithFetcher(s.fetcher),
		model.WithStatus(func(msg string) { sess.Report(msg) }),
		model.WithLogger(entry),
	)
	if err != nil {
		closeRuntime(runtime)
		browser.close()
		return nil, err
	}

	display := newDisplay(browser)
	sess, err = detection.New(id,
		detection.WithLoader(loader),
		detection.WithDetector(runtime),
		detection.WithCamera(browser),
		detection.WithOverlay(browser),
		detection.WithStatus(browser),
		detection.WithControl(browser),
		detection.WithDisplay(display),
		detection.WithLogger(entry),
		detection.WithConfig(s.cfg.Session),
	)
	if err != nil {
		closeRuntime(runtime)
		browser.close()
		return nil, err
	}

	conn := &Connection{
		ID:      id,
		session: sess,
		browser: browser,
		runtime: runtime,
		log:     entry,
	}

	if err := browser.send(helloEvent(id, s.cfg.Session.Constraints, display.Snapshot())); err != nil {
		conn.close()
		return nil, err
	}

	s.mu.Lock()
	s.connections[id] = conn
	s.mu.Unlock()

	if err := sess.Preload(ctx); err != nil {
		entry.WithError(err).Warn("model preload not started")
	}

	entry.Info("session opened")
	return conn, nil
}

func (s *sessionService) Get(id string) (*Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return conn, nil
}

func (s *sessionService) List(ctx context.Context) []session.SessionResponse {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	out := make([]session.SessionResponse, 0, len(conns))
	for _, c := range conns {
		out = append(out, toResponse(c.session.Info()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Describe reports a live session. The in-memory status line is
// authoritative; the cache only fills in when the session has not set one.
func (s *sessionService) Describe(ctx context.Context, id string) (session.SessionResponse, error) {
	conn, err := s.Get(id)
	if err != nil {
		return session.SessionResponse{}, err
	}

	resp := toResponse(conn.session.Info())
	if resp.LastStatus != "" || s.redis == nil {
		return resp, nil
	}

	status, err := s.redis.GetStatus(ctx, id)
	if err == nil {
		resp.LastStatus = status
	} else if !errors.Is(err, redis.ErrStatusNotFound) {
		conn.log.WithError(err).Warn("status cache lookup failed")
	}
	return resp, nil
}

func (s *sessionService) Toggle(ctx context.Context, id string) error {
	conn, err := s.Get(id)
	if err != nil {
		return err
	}
	return conn.Command(ctx, session.ClientMessage{Type: session.MessageToggle})
}

func (s *sessionService) Stop(ctx context.Context, id string) error {
	conn, err := s.Get(id)
	if err != nil {
		return err
	}
	return conn.Command(ctx, session.ClientMessage{Type: session.MessageStop})
}

// Close tears a session down for good. It runs when the page goes away.
func (s *sessionService) Close(ctx context.Context, id string) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	delete(s.connections, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	conn.close()

	if s.redis != nil {
		if err := s.redis.DeleteStatus(ctx, id); err != nil {
			conn.log.WithError(err).Warn("failed to drop cached status")
		}
	}
}

func (s *sessionService) Shutdown() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for id, c := range s.connections {
		conns = append(conns, c)
		delete(s.connections, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.close()
		}(c)
	}
	wg.Wait()

	s.log.WithField("sessions", len(conns)).Info("all sessions closed")
}

func toResponse(info detection.Info) session.SessionResponse {
	return session.SessionResponse{
		ID:           info.ID,
		State:        info.State.String(),
		CameraActive: info.CameraActive,
		Ticks:        info.Ticks,
		Reloads:      info.Reloads,
		LastStatus:   info.LastStatus,
	}
}

func closeRuntime(runtime model.Runtime) {
	if c, ok := runtime.(interface{ Close() }); ok {
		c.Close()
	}
}
