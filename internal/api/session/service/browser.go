package sessionService

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"EmotionOverlay/internal/api/session"
	"EmotionOverlay/internal/detection"
	"EmotionOverlay/internal/emotion"
	"EmotionOverlay/internal/entity"
	"EmotionOverlay/pkg/redis"
	"EmotionOverlay/pkg/utils"

	"github.com/sirupsen/logrus"
)

// browserWriteTimeout bounds every write to a page that stopped reading.
const browserWriteTimeout = 5 * time.Second

// Transport is the browser end of a session websocket.
type Transport interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
}

// browserClient drives the browser page over its websocket: it is the
// camera, the overlay canvas, the status line, the toggle button and the
// emotion panel of one session.
type browserClient struct {
	id            string
	transport     Transport
	utils         utils.IUtils
	log           *logrus.Entry
	cameraTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool

	mu        sync.Mutex
	acquiring chan *browserStream
	stream    *browserStream
	seq       uint64

	statusMu    sync.Mutex
	statusCh    chan string
	statusCache redis.IRedis
	statusTTL   time.Duration
	statusDone  chan struct{}
}

func newBrowserClient(id string, transport Transport, u utils.IUtils, cache redis.IRedis, cfg Config, log *logrus.Entry) *browserClient {
	c := &browserClient{
		id:            id,
		transport:     transport,
		utils:         u,
		log:           log,
		cameraTimeout: cfg.CameraTimeout,
		statusCache:   cache,
		statusTTL:     cfg.StatusTTL,
	}

	if cache != nil {
		c.statusCh = make(chan string, 16)
		c.statusDone = make(chan struct{})
		go c.cacheStatuses()
	}

	return c
}

func (c *browserClient) send(event interface{}) error {
	if c.closed.Load() {
		return session.ErrTransportClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.SetWriteDeadline(time.Now().Add(browserWriteTimeout)); err != nil {
		c.log.WithError(err).Debug("failed to set browser write deadline")
	}
	if err := c.transport.WriteJSON(event); err != nil {
		c.log.WithError(err).Debug("failed to write event to browser")
		return err
	}
	return nil
}

// Acquire asks the page for its camera and waits for the first frame, which
// fixes the stream's native resolution.
func (c *browserClient) Acquire(ctx context.Context, cons detection.Constraints) (detection.Stream, error) {
	ch := make(chan *browserStream, 1)

	c.mu.Lock()
	c.acquiring = ch
	c.mu.Unlock()

	err := c.send(session.AcquireEvent{
		Type:        session.EventAcquire,
		Constraints: session.Constraints{Width: cons.Width, Height: cons.Height},
	})
	if err != nil {
		c.abandon(ch)
		return nil, err
	}

	timer := time.NewTimer(c.cameraTimeout)
	defer timer.Stop()

	select {
	case s := <-ch:
		if s.err != nil {
			return nil, s.err
		}
		return s, nil
	case <-ctx.Done():
		c.abandon(ch)
		return nil, ctx.Err()
	case <-timer.C:
		c.abandon(ch)
		return nil, session.ErrCameraTimeout
	}
}

// abandon cancels a pending acquisition and releases a stream that was
// delivered after the waiter gave up.
func (c *browserClient) abandon(ch chan *browserStream) {
	c.mu.Lock()
	if c.acquiring == ch {
		c.acquiring = nil
	}
	c.mu.Unlock()

	select {
	case s := <-ch:
		if s.err == nil {
			s.Release()
		}
	default:
	}
}

// PushFrame stores a frame from the page in the stream's latest-frame slot.
// Frames that arrive while no camera is requested or held are dropped.
func (c *browserClient) PushFrame(data []byte) error {
	width, height, format, err := c.utils.DecodeFrameConfig(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	frame := entity.Frame{
		Seq:       c.seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Format:    format,
		Data:      data,
	}

	if c.acquiring != nil {
		s := &browserStream{client: c, width: width, height: height}
		s.update(frame)
		c.stream = s
		c.acquiring <- s
		c.acquiring = nil
		return nil
	}

	if c.stream != nil {
		c.stream.update(frame)
	}
	return nil
}

// CameraError fails a pending acquisition with the page's getUserMedia error.
func (c *browserClient) CameraError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acquiring == nil {
		c.log.WithField("error", msg).Debug("camera error without a pending acquisition")
		return
	}
	c.acquiring <- &browserStream{err: errors.New(msg)}
	c.acquiring = nil
}

func (c *browserClient) detach(s *browserStream) {
	c.mu.Lock()
	if c.stream == s {
		c.stream = nil
	}
	c.mu.Unlock()

	_ = c.send(session.ReleaseEvent{Type: session.EventRelease})
}

func (c *browserClient) Resize(width, height int) {
	_ = c.send(session.OverlaySizeEvent{Type: session.EventOverlaySize, Width: width, Height: height})
}

func (c *browserClient) Clear() {
	_ = c.send(session.OverlayClearEvent{Type: session.EventOverlayClear})
}

func (c *browserClient) DrawDetection(d entity.Detection) {
	_ = c.send(session.OverlayBoxEvent{Type: session.EventOverlayBox, Box: d.Box, Score: d.Score})
}

func (c *browserClient) SetStatus(msg string) {
	c.log.WithField("status", msg).Info("session status")
	_ = c.send(session.StatusEvent{Type: session.EventStatus, Message: msg})

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	if c.statusCh == nil || c.closed.Load() {
		return
	}
	select {
	case c.statusCh <- msg:
	default:
		c.log.Warn("status cache backlog full, dropping status")
	}
}

func (c *browserClient) SetActive(active bool) {
	label := session.LabelStartCamera
	if active {
		label = session.LabelStopCamera
	}
	_ = c.send(session.ControlEvent{Type: session.EventControl, Active: active, Label: label})
}

func (c *browserClient) ShowEmotions(snap emotion.Snapshot) {
	_ = c.send(session.EmotionsEvent{Type: session.EventEmotions, Snapshot: snap})
}

func (c *browserClient) cacheStatuses() {
	defer close(c.statusDone)

	for msg := range c.statusCh {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := c.statusCache.SetStatus(ctx, c.id, msg, c.statusTTL); err != nil {
			c.log.WithError(err).Warn("failed to cache session status")
		}
		cancel()
	}
}

// close stops all writes to the page and flushes the status cache.
func (c *browserClient) close() {
	c.statusMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.statusMu.Unlock()
		return
	}
	if c.statusCh != nil {
		close(c.statusCh)
	}
	c.statusMu.Unlock()

	if c.statusDone != nil {
		<-c.statusDone
	}
}

// browserStream is the camera stream of the page. Only the newest frame is
// kept.
type browserStream struct {
	client *browserClient
	width  int
	height int
	err    error

	mu       sync.Mutex
	latest   entity.Frame
	has      bool
	released atomic.Bool
}

func (s *browserStream) update(f entity.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = f
	s.has = true
}

func (s *browserStream) Latest() (entity.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

func (s *browserStream) Width() int {
	return s.width
}

func (s *browserStream) Height() int {
	return s.height
}

func (s *browserStream) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.client.detach(s)
}
