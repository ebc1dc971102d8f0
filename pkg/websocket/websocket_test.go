package websocketPkg

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
	"EmotionOverlay/internal/model"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// fakeSidecar speaks the inference runtime protocol. Every request is
// answered on its own goroutine, so replies can come back out of order.
type fakeSidecar struct {
	mu          sync.Mutex
	loaded      map[string]bool
	frames      []frameRequest
	failLoad    string
	delay       time.Duration
	dropFrames  bool
	inFlight    int
	maxInFlight int
}

func (f *fakeSidecar) handle(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var writeMu sync.Mutex
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			go f.reply(conn, &writeMu, mt, data)
		}
	}
}

func (f *fakeSidecar) reply(conn *websocket.Conn, writeMu *sync.Mutex, mt int, data []byte) {
	f.mu.Lock()
	delay, drop := f.delay, f.dropFrames
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	send := func(v interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(v)
	}

	switch mt {
	case websocket.TextMessage:
		var req loadRequest
		if err := json.Unmarshal(data, &req); err != nil {
			conn.Close()
			return
		}
		f.mu.Lock()
		resp := loadResponse{ID: req.ID, OK: true, Initialized: true}
		if req.Model == f.failLoad {
			resp = loadResponse{ID: req.ID, Error: "weights missing for " + req.Model}
		} else {
			f.loaded[req.Model] = true
		}
		f.mu.Unlock()
		send(resp)

	case websocket.BinaryMessage:
		if drop {
			conn.Close()
			return
		}
		var req frameRequest
		if err := msgpack.Unmarshal(data, &req); err != nil {
			conn.Close()
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, req)
		ready := f.loaded[string(model.FaceExpression)]
		f.mu.Unlock()

		if !ready {
			send(detectResponse{ID: req.ID, Error: "Error: load model before inference"})
			return
		}
		send(detectResponse{ID: req.ID, Detections: []entity.Detection{{
			Box:         entity.Box{X: 1, Y: 2, Width: 30, Height: 40},
			Score:       0.9,
			Expressions: entity.ExpressionReading{"happy": 0.7, "neutral": 0.3},
		}}})
	}
}

func newSidecar(t *testing.T) (*fakeSidecar, string) {
	t.Helper()
	f := &fakeSidecar{loaded: map[string]bool{}}
	srv := httptest.NewServer(f.handle(t))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newClient(t *testing.T, url string) IRuntime {
	t.Helper()
	c := NewRuntimeClient(url, nil)
	t.Cleanup(c.Close)
	return c
}

func testFrame() entity.Frame {
	return entity.Frame{Seq: 7, Width: 640, Height: 480, Format: "jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func TestLoadThenDetect(t *testing.T) {
	sidecar, url := newSidecar(t)
	c := newClient(t, url)
	ctx := context.Background()

	for _, kind := range model.Kinds {
		report, err := c.LoadModel(ctx, kind, "http://localhost:3000/models")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !report.Initialized {
			t.Fatalf("expected %s initialized", kind)
		}
	}

	detections, err := c.DetectFaces(ctx, testFrame())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(detections) != 1 || detections[0].Expressions["happy"] != 0.7 {
		t.Fatalf("unexpected detections: %#v", detections)
	}
	if detections[0].Box.Height != 40 {
		t.Fatalf("unexpected box: %#v", detections[0].Box)
	}

	sidecar.mu.Lock()
	defer sidecar.mu.Unlock()
	if len(sidecar.frames) != 1 {
		t.Fatalf("expected one frame on the wire, got %d", len(sidecar.frames))
	}
	got := sidecar.frames[0]
	if got.Width != 640 || got.Height != 480 || got.Format != "jpeg" || len(got.Data) != 3 {
		t.Fatalf("frame not encoded faithfully: %#v", got)
	}
}

func TestDetectBeforeLoadIsNotReady(t *testing.T) {
	_, url := newSidecar(t)
	c := newClient(t, url)

	_, err := c.DetectFaces(context.Background(), testFrame())
	if !errors.Is(err, model.ErrInferenceNotReady) {
		t.Fatalf("expected ErrInferenceNotReady, got %v", err)
	}
}

func TestLoadModelFailure(t *testing.T) {
	sidecar, url := newSidecar(t)
	sidecar.failLoad = string(model.FaceLandmark68Tiny)
	c := newClient(t, url)

	_, err := c.LoadModel(context.Background(), model.FaceLandmark68Tiny, "https://mirror.test/models")
	if err == nil || !strings.Contains(err.Error(), "weights missing") {
		t.Fatalf("expected the runtime error, got %v", err)
	}
}

func TestEmptyFrameSkipsRuntime(t *testing.T) {
	sidecar, url := newSidecar(t)
	c := newClient(t, url)

	detections, err := c.DetectFaces(context.Background(), entity.Frame{})
	if err != nil || detections != nil {
		t.Fatalf("expected nothing for an empty frame, got %v %v", detections, err)
	}

	sidecar.mu.Lock()
	defer sidecar.mu.Unlock()
	if len(sidecar.frames) != 0 {
		t.Fatalf("empty frame reached the runtime")
	}
}

func TestDroppedConnectionReconnectsOnDemand(t *testing.T) {
	sidecar, url := newSidecar(t)
	sidecar.dropFrames = true
	c := newClient(t, url)

	if _, err := c.DetectFaces(context.Background(), testFrame()); err == nil {
		t.Fatalf("expected an error when the runtime hangs up")
	}
	if c.IsConnected() {
		t.Fatalf("a failed exchange must drop the connection")
	}

	sidecar.mu.Lock()
	sidecar.dropFrames = false
	sidecar.mu.Unlock()

	if _, err := c.LoadModel(context.Background(), model.FaceExpression, "x"); err != nil {
		t.Fatalf("expected the client to redial, got %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("expected a live connection after redial")
	}
}

func TestCancelInterruptsPendingRead(t *testing.T) {
	sidecar, url := newSidecar(t)
	sidecar.delay = time.Second
	c := newClient(t, url)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.LoadModel(ctx, model.TinyFaceDetector, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancellation did not interrupt the read")
	}

	sidecar.mu.Lock()
	sidecar.delay = 0
	sidecar.mu.Unlock()

	report, err := c.LoadModel(context.Background(), model.FaceExpression, "x")
	if err != nil || !report.Initialized {
		t.Fatalf("expected the connection to stay usable, got %v", err)
	}
	if !c.IsConnected() {
		t.Fatalf("an abandoned exchange must not drop the connection")
	}
}

type unreachable struct{}

func (unreachable) Check(ctx context.Context, url string) error {
	return errors.New("local model path unreachable")
}

func TestRemoteFallbackLoadsInParallel(t *testing.T) {
	const perLoad = 200 * time.Millisecond

	sidecar, url := newSidecar(t)
	sidecar.delay = perLoad
	c := newClient(t, url)

	loader, err := model.NewLoader(c, model.WithFetcher(unreachable{}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	start := time.Now()
	if err := loader.LoadModels(context.Background()); err != nil {
		t.Fatalf("expected the fallback to succeed, got %v", err)
	}
	elapsed := time.Since(start)

	if !loader.Ready() {
		t.Fatalf("expected models ready after the fallback")
	}
	if elapsed >= 2*perLoad {
		t.Fatalf("fallback of %d models took %v, expected about %v", len(model.Kinds), elapsed, perLoad)
	}

	sidecar.mu.Lock()
	defer sidecar.mu.Unlock()
	if sidecar.maxInFlight != len(model.Kinds) {
		t.Fatalf("expected %d loads in flight together, saw %d", len(model.Kinds), sidecar.maxInFlight)
	}
}

func TestRepliesAreMatchedByID(t *testing.T) {
	sidecar, url := newSidecar(t)
	c := newClient(t, url)
	ctx := context.Background()

	if _, err := c.LoadModel(ctx, model.FaceExpression, "x"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sidecar.mu.Lock()
	sidecar.failLoad = string(model.TinyFaceDetector)
	sidecar.delay = 50 * time.Millisecond
	sidecar.mu.Unlock()

	var wg sync.WaitGroup
	var loadErr, detectErr error
	var detections []entity.Detection
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, loadErr = c.LoadModel(ctx, model.TinyFaceDetector, "x")
	}()
	go func() {
		defer wg.Done()
		detections, detectErr = c.DetectFaces(ctx, testFrame())
	}()
	wg.Wait()

	if loadErr == nil || !strings.Contains(loadErr.Error(), "weights missing") {
		t.Fatalf("load got the wrong reply: %v", loadErr)
	}
	if detectErr != nil || len(detections) != 1 {
		t.Fatalf("detect got the wrong reply: %v %v", detections, detectErr)
	}
}
