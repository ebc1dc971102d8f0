package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"EmotionOverlay/internal/entity"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLocalBase  = "http://localhost:3000/models"
	DefaultRemoteBase = "https://cdn.jsdelivr.net/npm/face-api.js-models/models"
)

type LoaderOption func(*Loader) error

// Loader loads the detector, landmark and expression models, first from the
// local model path and, on any failure, once from the remote mirror.
type Loader struct {
	runtime    Runtime
	fetcher    ManifestFetcher
	localBase  string
	remoteBase string
	status     func(string)
	log        *logrus.Entry

	detector   *Net
	landmark   *Net
	expression *Net

	mu    sync.Mutex
	ready atomic.Bool
}

func NewLoader(runtime Runtime, options ...LoaderOption) (*Loader, error) {
	if runtime == nil {
		return nil, fmt.Errorf("model runtime is required")
	}

	l := &Loader{
		runtime:    runtime,
		fetcher:    NewHTTPFetcher(10 * time.Second),
		localBase:  DefaultLocalBase,
		remoteBase: DefaultRemoteBase,
		status:     func(string) {},
		log:        logrus.NewEntry(logrus.StandardLogger()),
		detector:   NewNet(TinyFaceDetector, runtime),
		landmark:   NewNet(FaceLandmark68Tiny, runtime),
		expression: NewNet(FaceExpression, runtime),
	}

	for _, option := range options {
		if err := option(l); err != nil {
			return nil, fmt.Errorf("failed to apply loader option: %w", err)
		}
	}

	return l, nil
}

func WithLocalBase(base string) LoaderOption {
	return func(l *Loader) error {
		if base == "" {
			return fmt.Errorf("local model base is empty")
		}
		l.localBase = strings.TrimRight(base, "/")
		return nil
	}
}

func WithRemoteBase(base string) LoaderOption {
	return func(l *Loader) error {
		if base == "" {
			return fmt.Errorf("remote model base is empty")
		}
		l.remoteBase = strings.TrimRight(base, "/")
		return nil
	}
}

func WithFetcher(fetcher ManifestFetcher) LoaderOption {
	return func(l *Loader) error {
		if fetcher == nil {
			return fmt.Errorf("manifest fetcher is nil")
		}
		l.fetcher = fetcher
		return nil
	}
}

func WithStatus(status func(string)) LoaderOption {
	return func(l *Loader) error {
		if status != nil {
			l.status = status
		}
		return nil
	}
}

func WithLogger(entry *logrus.Entry) LoaderOption {
	return func(l *Loader) error {
		if entry != nil {
			l.log = entry
		}
		return nil
	}
}

// LoadModels runs the local load and falls back to the remote mirror exactly
// once. It never retries beyond that. Calls are serialized.
func (l *Loader) LoadModels(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.status("Loading AI models...")

	err := l.loadLocal(ctx)
	if err == nil {
		l.ready.Store(true)
		l.status("Models loaded successfully!")
		l.log.WithField("source", l.localBase).Info("all models verified and ready")
		return nil
	}

	l.ready.Store(false)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	l.log.WithError(err).Error("model load failed, attempting remote fallback")
	l.status(fmt.Sprintf("Model error: %s. Trying CDN fallback...", err.Error()))

	if err := l.loadRemote(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.WithError(err).Error("remote fallback failed")
		l.status(fmt.Sprintf("Critical error: Could not load models from local or CDN. %s", err.Error()))
		return fmt.Errorf("%w: %v", ErrFallbackExhausted, err)
	}

	l.ready.Store(true)
	l.status("Models loaded from CDN!")
	l.log.WithField("source", l.remoteBase).Info("models loaded from remote fallback")
	return nil
}

func (l *Loader) loadLocal(ctx context.Context) error {
	if err := l.verifyManifests(ctx); err != nil {
		return err
	}

	for _, n := range []*Net{l.detector, l.landmark, l.expression} {
		l.log.WithField("model", n.Kind()).Debug("loading model")
		if err := n.Load(ctx, l.localBase); err != nil {
			return fmt.Errorf("load %s: %w", n.Kind(), err)
		}

		if n == l.landmark && !n.IsFullyInitialized() {
			return fmt.Errorf("%w: %s reported loaded but its parameters are missing", ErrModelInitIncomplete, n.Kind())
		}
	}

	if !l.computeReady() {
		return fmt.Errorf("%w: one or more models failed final verification", ErrModelInitIncomplete)
	}
	return nil
}

func (l *Loader) verifyManifests(ctx context.Context) error {
	for _, kind := range Kinds {
		file := kind.Manifest()
		url := l.localBase + "/" + file

		if err := l.fetcher.Check(ctx, url); err != nil {
			return fmt.Errorf("%w: failed to load %s locally: %v. Ensure files are in '%s' and server is running",
				ErrArtifactUnavailable, file, err, l.localBase)
		}
		l.log.WithField("manifest", url).Debug("model manifest reachable")
	}
	return nil
}

func (l *Loader) loadRemote(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range []*Net{l.detector, l.landmark, l.expression} {
		n := n
		g.Go(func() error {
			if err := n.Load(gctx, l.remoteBase); err != nil {
				return fmt.Errorf("load %s: %w", n.Kind(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (l *Loader) computeReady() bool {
	return l.detector.IsLoaded() && l.landmark.IsFullyInitialized() && l.expression.IsLoaded()
}

// Ready is the overall readiness flag set by the last LoadModels call.
func (l *Loader) Ready() bool {
	return l.ready.Load()
}

// FullyInitialized reports the landmark model's deep-initialization marker.
func (l *Loader) FullyInitialized() bool {
	return l.landmark.IsFullyInitialized()
}

func (l *Loader) Readiness(kind Kind) entity.ModelReadiness {
	switch kind {
	case TinyFaceDetector:
		return l.detector.Readiness()
	case FaceLandmark68Tiny:
		return l.landmark.Readiness()
	case FaceExpression:
		return l.expression.Readiness()
	default:
		return entity.ModelNotLoaded
	}
}
