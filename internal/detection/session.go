// Package detection drives one detection session: model loading, camera
// acquisition, the readiness wait and the periodic detection loop that feeds
// the overlay and the emotion display.
package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"EmotionOverlay/internal/emotion"
	"EmotionOverlay/internal/entity"
	"EmotionOverlay/internal/model"
	"EmotionOverlay/internal/scheduler"

	"github.com/sirupsen/logrus"
)

const (
	StatusWaitingForModels = "Models not yet loaded. Please wait..."
	StatusLoadFailed       = "Failed to load models. Cannot start camera."
	StatusInitializing     = "Models still initializing. Waiting for full readiness..."
	StatusDetecting        = "Webcam active. Detecting faces..."
	StatusBecameUnready    = "Detection stopped: Models became unready. Please restart camera."
	StatusReloading        = "Models became unresponsive. Attempting reload..."
	StatusReloaded         = "Models reloaded. Resuming detection."
	StatusReloadFailed     = "Failed to reload models. Please refresh page."
	StatusReloadExhausted  = "Models became unresponsive again. Please restart camera."
	StatusCameraStopped    = "Camera stopped."
)

type Config struct {
	TickInterval time.Duration
	PollInterval time.Duration
	Constraints  Constraints
}

func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		PollInterval: 200 * time.Millisecond,
		Constraints:  Constraints{Width: 640, Height: 480},
	}
}

type Option func(*Session) error

type Session struct {
	id       string
	cfg      Config
	loader   ModelLoader
	detector Detector
	camera   Camera
	overlay  Overlay
	display  *emotion.Display
	status   StatusSink
	control  ControlSurface
	log      *logrus.Entry

	mu            sync.Mutex
	state         entity.SessionState
	closed        bool
	stream        Stream
	runCtx        context.Context
	runCancel     context.CancelFunc
	loop          *scheduler.Loop
	reloadPending bool
	lastStatus    string
	outbox        []string
	preloadDone   chan struct{}
	preloadCancel context.CancelFunc
	wg            sync.WaitGroup

	// emitMu orders status delivery; it is never taken while mu is held.
	emitMu sync.Mutex

	ticks   atomic.Uint64
	reloads atomic.Uint64
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string
	State        entity.SessionState
	CameraActive bool
	Ticks        uint64
	Reloads      uint64
	LastStatus   string
}

func New(id string, options ...Option) (*Session, error) {
	s := &Session{
		id:      id,
		cfg:     DefaultConfig(),
		control: noopControl{},
		state:   entity.SessionIdle,
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("session_id", id),
	}

	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("failed to apply session option: %w", err)
		}
	}

	switch {
	case s.loader == nil:
		return nil, fmt.Errorf("session %s: model loader is required", id)
	case s.detector == nil:
		return nil, fmt.Errorf("session %s: detector is required", id)
	case s.camera == nil:
		return nil, fmt.Errorf("session %s: camera is required", id)
	case s.overlay == nil:
		return nil, fmt.Errorf("session %s: overlay is required", id)
	case s.status == nil:
		return nil, fmt.Errorf("session %s: status sink is required", id)
	}

	if s.display == nil {
		s.display = emotion.NewDisplay(nil)
	}

	return s, nil
}

func WithLoader(loader ModelLoader) Option {
	return func(s *Session) error {
		s.loader = loader
		return nil
	}
}

func WithDetector(detector Detector) Option {
	return func(s *Session) error {
		s.detector = detector
		return nil
	}
}

func WithCamera(camera Camera) Option {
	return func(s *Session) error {
		s.camera = camera
		return nil
	}
}

func WithOverlay(overlay Overlay) Option {
	return func(s *Session) error {
		s.overlay = overlay
		return nil
	}
}

func WithDisplay(display *emotion.Display) Option {
	return func(s *Session) error {
		s.display = display
		return nil
	}
}

func WithStatus(status StatusSink) Option {
	return func(s *Session) error {
		s.status = status
		return nil
	}
}

func WithControl(control ControlSurface) Option {
	return func(s *Session) error {
		if control != nil {
			s.control = control
		}
		return nil
	}
}

func WithLogger(entry *logrus.Entry) Option {
	return func(s *Session) error {
		if entry != nil {
			s.log = entry.WithField("session_id", s.id)
		}
		return nil
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Session) error {
		if cfg.TickInterval <= 0 || cfg.PollInterval <= 0 {
			return fmt.Errorf("tick and poll intervals must be positive")
		}
		if cfg.Constraints.Width <= 0 || cfg.Constraints.Height <= 0 {
			return fmt.Errorf("invalid camera constraints %dx%d", cfg.Constraints.Width, cfg.Constraints.Height)
		}
		s.cfg = cfg
		return nil
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() entity.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the session holds a camera or is starting one.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Session) Ticks() uint64 {
	return s.ticks.Load()
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		State:        s.state,
		CameraActive: s.stream != nil,
		Ticks:        s.ticks.Load(),
		Reloads:      s.reloads.Load(),
		LastStatus:   s.lastStatus,
	}
}

func (s *Session) activeLocked() bool {
	return s.stream != nil || s.state.Running()
}

// Start loads the models if needed, acquires the camera and begins the wait
// for full readiness. Detection itself starts asynchronously. ctx only
// carries values; the run outlives it until Stop or Close.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state.Running() {
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	if s.runCancel != nil {
		s.runCancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCtx, s.runCancel = runCtx, cancel
	s.reloadPending = false

	prev := s.stream
	s.stream = nil
	preload := s.preloadDone
	s.setStateLocked(entity.SessionModelsLoading)
	s.mu.Unlock()

	if prev != nil {
		prev.Release()
	}

	if preload != nil && !s.loader.Ready() {
		select {
		case <-preload:
		default:
			s.setStatus(StatusWaitingForModels)
			select {
			case <-preload:
			case <-runCtx.Done():
				return ErrSessionStopped
			}
		}
	}

	if !s.loader.Ready() {
		s.setStatus(StatusWaitingForModels)
		if err := s.loader.LoadModels(runCtx); err != nil {
			if runCtx.Err() != nil {
				return ErrSessionStopped
			}
			s.fail(runCtx, StatusLoadFailed)
			return fmt.Errorf("start session %s: %w", s.id, err)
		}
	}

	stream, err := s.camera.Acquire(runCtx, s.cfg.Constraints)
	if err != nil {
		if runCtx.Err() != nil {
			return ErrSessionStopped
		}
		s.fail(runCtx, fmt.Sprintf("Camera error: %s. Make sure you have a webcam and granted permissions.", err.Error()))
		return fmt.Errorf("%w: %v", ErrPermissionOrDevice, err)
	}

	s.mu.Lock()
	if runCtx.Err() != nil {
		s.mu.Unlock()
		stream.Release()
		return ErrSessionStopped
	}
	s.stream = stream
	s.setStateLocked(entity.SessionAwaitingReadiness)
	s.control.SetActive(true)
	s.overlay.Resize(stream.Width(), stream.Height())
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"width":  stream.Width(),
		"height": stream.Height(),
	}).Info("camera acquired")

	go func() {
		defer s.wg.Done()
		s.awaitReadiness(runCtx)
	}()

	return nil
}

// Stop tears the session down from any state and waits for an in-flight
// detection pass to finish before clearing the overlay and display.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	loop := s.loop
	s.loop = nil
	if loop != nil {
		loop.Cancel()
	}
	stream := s.stream
	s.stream = nil
	wasIdle := s.state == entity.SessionIdle && stream == nil
	if !wasIdle {
		s.setStateLocked(entity.SessionStopped)
	}
	s.control.SetActive(false)
	s.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	if stream != nil {
		stream.Release()
	}

	s.overlay.Clear()
	s.display.Reset()
	if !wasIdle {
		s.setStatus(StatusCameraStopped)
	}
}

// Toggle starts an idle session or fully stops an active one.
func (s *Session) Toggle(ctx context.Context) error {
	if s.Active() {
		s.Stop()
		return nil
	}
	return s.Start(ctx)
}

// Preload loads the models in the background as soon as the page is open,
// so the first Start finds them ready. A Start issued meanwhile waits for it.
// Only Close cancels a preload; a failed one is retried by the next Start.
func (s *Session) Preload(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.preloadDone != nil {
		s.mu.Unlock()
		return nil
	}
	preloadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.preloadDone, s.preloadCancel = done, cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(done)
		defer cancel()

		if s.loader.Ready() {
			return
		}
		if err := s.loader.LoadModels(preloadCtx); err != nil {
			if preloadCtx.Err() == nil {
				s.log.WithError(err).Warn("model preload failed, the next start will retry")
			}
			return
		}
		s.log.Info("models preloaded")
	}()

	return nil
}

// Close stops the session and waits for every background goroutine. The
// session cannot be started again.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.preloadCancel != nil {
		s.preloadCancel()
	}
	s.mu.Unlock()

	s.Stop()
	s.wg.Wait()
	s.log.Info("session closed")
}

func (s *Session) awaitReadiness(runCtx context.Context) {
	err := awaitReady(runCtx, s.cfg.PollInterval, s.fullyReady, func() {
		s.setStatus(StatusInitializing)
	})
	if err != nil {
		return
	}
	s.startDetection(runCtx)
}

func (s *Session) fullyReady() bool {
	return s.loader.FullyInitialized() && s.loader.Ready()
}

func (s *Session) startDetection(runCtx context.Context) {
	defer s.flushStatus()
	s.mu.Lock()
	defer s.mu.Unlock()

	if runCtx.Err() != nil || s.stream == nil {
		return
	}
	if s.loop != nil {
		s.loop.Cancel()
	}
	s.loop = scheduler.Start(runCtx, s.cfg.TickInterval, s.tick)
	s.setStateLocked(entity.SessionDetecting)
	s.setStatusLocked(StatusDetecting)
}

func (s *Session) tick(ctx context.Context) {
	s.ticks.Add(1)

	if !s.fullyReady() {
		s.halt(ctx, StatusBecameUnready)
		return
	}

	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return
	}

	frame, ok := stream.Latest()
	if !ok {
		return
	}

	detections, err := s.detector.DetectFaces(ctx, frame)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.handleDetectError(ctx, err)
		return
	}

	s.mu.Lock()
	s.reloadPending = false
	s.mu.Unlock()

	s.overlay.Clear()
	if len(detections) == 0 {
		s.display.Reset()
		return
	}

	d := detections[0]
	s.overlay.DrawDetection(d)
	s.display.Render(d.Expressions)
}

// halt stops the detection loop without releasing the camera. A later toggle
// performs the full teardown.
func (s *Session) halt(ctx context.Context, msg string) {
	defer s.flushStatus()
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	s.cancelLoopLocked()
	s.setStateLocked(entity.SessionStopped)
	s.setStatusLocked(msg)
	s.log.Warn("detection halted, models unready")
}

func (s *Session) handleDetectError(ctx context.Context, err error) {
	if !isInferenceNotReady(err) && s.loader.Ready() {
		s.log.WithError(err).Warn("detection pass failed")
		return
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.cancelLoopLocked()

	if s.reloadPending {
		s.setStateLocked(entity.SessionStopped)
		s.setStatusLocked(StatusReloadExhausted)
		s.mu.Unlock()
		s.flushStatus()
		s.log.WithError(err).Error("models unresponsive after reload, giving up")
		return
	}

	s.reloadPending = true
	s.setStateLocked(entity.SessionModelsLoading)
	s.setStatusLocked(StatusReloading)
	runCtx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()
	s.flushStatus()

	s.log.WithError(err).Warn("models unresponsive, reloading")
	s.reloads.Add(1)

	go func() {
		defer s.wg.Done()
		s.reload(runCtx)
	}()
}

func (s *Session) reload(runCtx context.Context) {
	err := s.loader.LoadModels(runCtx)
	if runCtx.Err() != nil {
		return
	}

	if err != nil {
		s.fail(runCtx, StatusReloadFailed)
		s.log.WithError(err).Error("model reload failed")
		return
	}

	s.mu.Lock()
	if runCtx.Err() != nil || s.stream == nil {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(entity.SessionAwaitingReadiness)
	s.setStatusLocked(StatusReloaded)
	s.mu.Unlock()
	s.flushStatus()

	s.awaitReadiness(runCtx)
}

// fail moves a run that has not been torn down to Stopped.
func (s *Session) fail(runCtx context.Context, msg string) {
	defer s.flushStatus()
	s.mu.Lock()
	defer s.mu.Unlock()

	if runCtx.Err() != nil {
		return
	}
	s.setStateLocked(entity.SessionStopped)
	s.setStatusLocked(msg)
}

func (s *Session) cancelLoopLocked() {
	if s.loop != nil {
		s.loop.Cancel()
		s.loop = nil
	}
}

func (s *Session) setStateLocked(state entity.SessionState) {
	if s.state == state {
		return
	}
	s.log.WithFields(logrus.Fields{
		"from": s.state.String(),
		"to":   state.String(),
	}).Debug("session state changed")
	s.state = state
}

// Report sets the status line on behalf of a collaborator such as the model
// loader. It must not be called while the session is locked.
func (s *Session) Report(msg string) {
	s.setStatus(msg)
}

func (s *Session) setStatus(msg string) {
	s.mu.Lock()
	s.setStatusLocked(msg)
	s.mu.Unlock()
	s.flushStatus()
}

// setStatusLocked queues msg for delivery by flushStatus. Repeats are dropped
// so the readiness poll does not flood the sink.
func (s *Session) setStatusLocked(msg string) {
	if msg == s.lastStatus {
		return
	}
	s.lastStatus = msg
	s.outbox = append(s.outbox, msg)
}

// flushStatus hands queued status lines to the sink in the order they were
// set. The sink may block on a slow page, so mu must not be held here.
func (s *Session) flushStatus() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	pending := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, msg := range pending {
		s.status.SetStatus(msg)
	}
}

func isInferenceNotReady(err error) bool {
	return errors.Is(err, model.ErrInferenceNotReady) ||
		strings.Contains(err.Error(), "load model before inference")
}
