package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"EmotionOverlay/internal/entity"
)

const remoteBase = "https://mirror.test/models"

type loadCall struct {
	kind Kind
	uri  string
}

type fakeRuntime struct {
	mu            sync.Mutex
	calls         []loadCall
	failBase      map[string]error
	uninitialized map[Kind]bool
	remoteArrived int
	remoteAll     chan struct{}
	notConcurrent bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		failBase:      map[string]error{},
		uninitialized: map[Kind]bool{},
		remoteAll:     make(chan struct{}),
	}
}

func (r *fakeRuntime) LoadModel(ctx context.Context, kind Kind, sourceURI string) (LoadReport, error) {
	r.mu.Lock()
	r.calls = append(r.calls, loadCall{kind: kind, uri: sourceURI})
	err := r.failBase[sourceURI]
	initialized := !r.uninitialized[kind]

	isRemote := sourceURI == remoteBase
	if isRemote {
		r.remoteArrived++
		if r.remoteArrived == len(Kinds) {
			close(r.remoteAll)
		}
	}
	r.mu.Unlock()

	if isRemote {
		// every remote load must be in flight at the same time
		select {
		case <-r.remoteAll:
		case <-time.After(2 * time.Second):
			r.mu.Lock()
			r.notConcurrent = true
			r.mu.Unlock()
		}
	}

	if err != nil {
		return LoadReport{}, err
	}
	return LoadReport{Initialized: initialized}, nil
}

func (r *fakeRuntime) DetectFaces(ctx context.Context, frame entity.Frame) ([]entity.Detection, error) {
	return nil, nil
}

func (r *fakeRuntime) callsTo(uri string) []loadCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []loadCall
	for _, c := range r.calls {
		if c.uri == uri {
			out = append(out, c)
		}
	}
	return out
}

func manifestServer(t *testing.T, missing string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if missing != "" && strings.HasSuffix(r.URL.Path, missing) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"paths":["shard1"],"weights":[]}]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type statusLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusLog) set(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, msg)
}

func (s *statusLog) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

func newTestLoader(t *testing.T, rt Runtime, localBase string, status *statusLog) *Loader {
	t.Helper()
	l, err := NewLoader(rt,
		WithLocalBase(localBase),
		WithRemoteBase(remoteBase),
		WithFetcher(NewHTTPFetcher(2*time.Second)),
		WithStatus(status.set),
	)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return l
}

func TestLoadModelsLocalSuccessNeverTouchesRemote(t *testing.T) {
	srv := manifestServer(t, "")
	rt := newFakeRuntime()
	status := &statusLog{}
	l := newTestLoader(t, rt, srv.URL+"/models", status)

	if err := l.LoadModels(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !l.Ready() || !l.FullyInitialized() {
		t.Fatalf("expected loader ready and fully initialized")
	}
	if got := len(rt.callsTo(remoteBase)); got != 0 {
		t.Fatalf("expected no remote loads, got %d", got)
	}

	local := rt.callsTo(srv.URL + "/models")
	if len(local) != 3 {
		t.Fatalf("expected 3 local loads, got %d", len(local))
	}
	for i, kind := range Kinds {
		if local[i].kind != kind {
			t.Fatalf("expected sequential load order %v, got %v", Kinds, local)
		}
	}
	if status.last() != "Models loaded successfully!" {
		t.Fatalf("unexpected status: %q", status.last())
	}
}

func TestLoadModelsMissingManifestFallsBackOnceConcurrently(t *testing.T) {
	srv := manifestServer(t, FaceExpression.Manifest())
	rt := newFakeRuntime()
	status := &statusLog{}
	l := newTestLoader(t, rt, srv.URL+"/models", status)

	if err := l.LoadModels(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := len(rt.callsTo(srv.URL + "/models")); got != 0 {
		t.Fatalf("manifest check must fail before any local load, got %d loads", got)
	}

	remote := rt.callsTo(remoteBase)
	if len(remote) != 3 {
		t.Fatalf("expected exactly one remote load per model, got %v", remote)
	}
	seen := map[Kind]bool{}
	for _, c := range remote {
		seen[c.kind] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all three models loaded remotely, got %v", remote)
	}
	if rt.notConcurrent {
		t.Fatalf("remote loads were not in flight concurrently")
	}
	if !l.Ready() {
		t.Fatalf("expected loader ready after fallback")
	}
	if status.last() != "Models loaded from CDN!" {
		t.Fatalf("unexpected status: %q", status.last())
	}

	found := false
	for _, line := range status.lines {
		if strings.Contains(line, FaceExpression.Manifest()) && strings.Contains(line, "Trying CDN fallback") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a status naming the missing manifest, got %v", status.lines)
	}
}

func TestLoadModelsLandmarkWithoutParamsFallsBack(t *testing.T) {
	srv := manifestServer(t, "")
	rt := newFakeRuntime()
	rt.uninitialized[FaceLandmark68Tiny] = true
	l := newTestLoader(t, rt, srv.URL+"/models", &statusLog{})

	if err := l.LoadModels(context.Background()); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}

	local := rt.callsTo(srv.URL + "/models")
	if len(local) != 2 || local[1].kind != FaceLandmark68Tiny {
		t.Fatalf("expected local loading to stop after the landmark model, got %v", local)
	}
	if got := len(rt.callsTo(remoteBase)); got != 3 {
		t.Fatalf("expected 3 remote loads, got %d", got)
	}
	if !l.Ready() {
		t.Fatalf("fallback success must set readiness")
	}
	if l.FullyInitialized() {
		t.Fatalf("landmark model still lacks its deep marker")
	}
	if got := l.Readiness(FaceLandmark68Tiny); got != entity.ModelLoaded {
		t.Fatalf("expected landmark readiness loaded, got %s", got)
	}
}

func TestLoadModelsBothSourcesFail(t *testing.T) {
	srv := manifestServer(t, "")
	rt := newFakeRuntime()
	rt.failBase[srv.URL+"/models"] = errors.New("weights corrupt")
	rt.failBase[remoteBase] = errors.New("mirror unreachable")
	status := &statusLog{}
	l := newTestLoader(t, rt, srv.URL+"/models", status)

	err := l.LoadModels(context.Background())
	if !errors.Is(err, ErrFallbackExhausted) {
		t.Fatalf("expected ErrFallbackExhausted, got %v", err)
	}
	if l.Ready() {
		t.Fatalf("readiness must stay false")
	}
	if !strings.HasPrefix(status.last(), "Critical error: Could not load models from local or CDN.") {
		t.Fatalf("unexpected status: %q", status.last())
	}
}

func TestLoadModelsFailureClearsPreviousReadiness(t *testing.T) {
	srv := manifestServer(t, "")
	rt := newFakeRuntime()
	l := newTestLoader(t, rt, srv.URL+"/models", &statusLog{})

	if err := l.LoadModels(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	rt.mu.Lock()
	rt.failBase[srv.URL+"/models"] = errors.New("gone")
	rt.failBase[remoteBase] = errors.New("gone")
	rt.remoteAll = make(chan struct{})
	rt.remoteArrived = 0
	rt.mu.Unlock()

	if err := l.LoadModels(context.Background()); !errors.Is(err, ErrFallbackExhausted) {
		t.Fatalf("expected ErrFallbackExhausted, got %v", err)
	}
	if l.Ready() {
		t.Fatalf("readiness must be false after a failed reload")
	}
}

func TestHTTPFetcherRejectsNonSuccess(t *testing.T) {
	srv := manifestServer(t, "missing.json")
	f := NewHTTPFetcher(time.Second)

	if err := f.Check(context.Background(), srv.URL+"/models/present.json"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	err := f.Check(context.Background(), srv.URL+"/models/missing.json")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected a 404 error, got %v", err)
	}
}

func TestNewLoaderRequiresRuntime(t *testing.T) {
	if _, err := NewLoader(nil); err == nil {
		t.Fatalf("expected an error for a nil runtime")
	}
}
