package websocketPkg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"EmotionOverlay/internal/entity"
	"EmotionOverlay/internal/model"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultRuntimeURL = "ws://localhost:8000/api/v1/face/ws"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotConnected = errors.New("not connected to inference runtime")
	ErrTimeout      = errors.New("inference runtime did not reply in time")
)

// IRuntime is a model.Runtime backed by one websocket connection to the
// inference sidecar.
type IRuntime interface {
	LoadModel(ctx context.Context, kind model.Kind, sourceURI string) (model.LoadReport, error)
	DetectFaces(ctx context.Context, frame entity.Frame) ([]entity.Detection, error)
	IsConnected() bool
	Reconnect() error
	Close()
}

type loadRequest struct {
	ID    uint64 `json:"id"`
	Op    string `json:"op"`
	Model string `json:"model"`
	URI   string `json:"uri"`
}

type loadResponse struct {
	ID          uint64 `json:"id"`
	OK          bool   `json:"ok"`
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
}

type frameRequest struct {
	ID     uint64 `msgpack:"id"`
	Height int    `msgpack:"h"`
	Width  int    `msgpack:"w"`
	Format string `msgpack:"f"`
	Data   []byte `msgpack:"d"`
}

type detectResponse struct {
	ID         uint64             `json:"id"`
	Detections []entity.Detection `json:"detections"`
	Error      string             `json:"error,omitempty"`
}

// link is one live connection. Replies are matched to requests by id, so
// any number of exchanges can be in flight on it.
type link struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan []byte
	done    chan struct{}
	err     error
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn:    conn,
		pending: make(map[uint64]chan []byte),
		done:    make(chan struct{}),
	}
}

func (l *link) register(id uint64) (chan []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	ch := make(chan []byte, 1)
	l.pending[id] = ch
	return ch, nil
}

func (l *link) unregister(id uint64) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *link) deliver(id uint64, message []byte) bool {
	l.mu.Lock()
	ch, ok := l.pending[id]
	delete(l.pending, id)
	l.mu.Unlock()

	if ok {
		ch <- message
	}
	return ok
}

func (l *link) write(messageType int, payload []byte, deadline time.Time) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	_ = l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteMessage(messageType, payload)
}

// fail fails every pending exchange. Only the first error is kept.
func (l *link) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return
	}
	l.err = err
	close(l.done)
	l.conn.Close()
}

type runtimeClient struct {
	url string
	log *logrus.Entry

	mu   sync.Mutex
	link *link

	nextID atomic.Uint64

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewRuntimeClient(url string, log *logrus.Entry) IRuntime {
	if url == "" {
		url = DefaultRuntimeURL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	client := &runtimeClient{
		url:          url,
		log:          log.WithField("runtime", url),
		pingInterval: 30 * time.Second,
		readTimeout:  10 * time.Second,
		writeTimeout: 5 * time.Second,
	}

	go client.connectInBackground()

	return client
}

func (c *runtimeClient) connectInBackground() {
	if _, err := c.current(); err != nil {
		c.log.WithError(err).Warn("initial connection to inference runtime failed, will retry on demand")
		return
	}
	c.log.Info("connected to inference runtime")
}

func (c *runtimeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Reconnect drops the current connection, if any, and dials again.
func (c *runtimeClient) Reconnect() error {
	c.mu.Lock()
	old := c.link
	c.link = nil
	c.mu.Unlock()

	if old != nil {
		old.fail(ErrNotConnected)
	}

	_, err := c.current()
	return err
}

// current returns the live link, dialing when there is none.
func (c *runtimeClient) current() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != nil {
		return c.link, nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	c.log.Debug("dialing inference runtime")
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrNotConnected, c.url, err)
	}

	conn.SetPingHandler(func(appData string) error {
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout)); err != nil {
			c.log.WithError(err).Warn("error sending pong")
		}
		return nil
	})

	l := newLink(conn)
	c.link = l
	go c.readLoop(l)
	go c.keepAlive(l)

	return l, nil
}

func (c *runtimeClient) Close() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l != nil {
		l.fail(ErrNotConnected)
	}
}

// drop forgets l if it is still current and fails its pending exchanges.
// Gorilla connections are not usable after a read or write error.
func (c *runtimeClient) drop(l *link, err error) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()

	l.fail(err)
}

// readLoop is the only reader of a connection. It hands every reply to the
// exchange waiting for its id; replies nobody waits for any more are dropped.
func (c *runtimeClient) readLoop(l *link) {
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			c.drop(l, fmt.Errorf("error reading from inference runtime: %w", err))
			return
		}

		id := json.Get(message, "id").ToUint64()
		if !l.deliver(id, message) {
			c.log.WithField("id", id).Debug("discarding reply without a waiting request")
		}
	}
}

func (c *runtimeClient) keepAlive(l *link) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		if err := l.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout)); err != nil {
			c.log.WithError(err).Warn("ping failed, marking runtime connection as dead")
			c.drop(l, err)
			return
		}
	}
}

// roundTrip writes one request and waits for the reply carrying the same
// id. ctx cancellation abandons the wait without closing the connection.
func (c *runtimeClient) roundTrip(ctx context.Context, id uint64, messageType int, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l, err := c.current()
	if err != nil {
		return nil, err
	}

	reply, err := l.register(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	defer l.unregister(id)

	writeDeadline := time.Now().Add(c.writeTimeout)
	readDeadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok {
		if d.Before(writeDeadline) {
			writeDeadline = d
		}
		if d.Before(readDeadline) {
			readDeadline = d
		}
	}

	if err := l.write(messageType, payload, writeDeadline); err != nil {
		c.drop(l, err)
		return nil, fmt.Errorf("error sending to inference runtime: %w", err)
	}

	timer := time.NewTimer(time.Until(readDeadline))
	defer timer.Stop()

	select {
	case message := <-reply:
		return message, nil
	case <-l.done:
		return nil, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (c *runtimeClient) LoadModel(ctx context.Context, kind model.Kind, sourceURI string) (model.LoadReport, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(loadRequest{ID: id, Op: "load", Model: string(kind), URI: sourceURI})
	if err != nil {
		return model.LoadReport{}, fmt.Errorf("error encoding load request: %w", err)
	}

	message, err := c.roundTrip(ctx, id, websocket.TextMessage, payload)
	if err != nil {
		return model.LoadReport{}, err
	}

	var resp loadResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return model.LoadReport{}, fmt.Errorf("error unmarshaling load response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "runtime rejected the model"
		}
		return model.LoadReport{}, errors.New(resp.Error)
	}

	c.log.WithFields(logrus.Fields{
		"model":       kind,
		"source":      sourceURI,
		"initialized": resp.Initialized,
	}).Debug("runtime loaded model")

	return model.LoadReport{Initialized: resp.Initialized}, nil
}

func (c *runtimeClient) DetectFaces(ctx context.Context, frame entity.Frame) ([]entity.Detection, error) {
	if frame.Empty() {
		return nil, nil
	}

	id := c.nextID.Add(1)
	payload, err := msgpack.Marshal(&frameRequest{
		ID:     id,
		Height: frame.Height,
		Width:  frame.Width,
		Format: frame.Format,
		Data:   frame.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("error encoding frame: %w", err)
	}

	message, err := c.roundTrip(ctx, id, websocket.BinaryMessage, payload)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling detect response: %w", err)
	}

	if resp.Error != "" {
		if strings.Contains(resp.Error, model.ErrInferenceNotReady.Error()) {
			return nil, fmt.Errorf("detect faces: %w", model.ErrInferenceNotReady)
		}
		return nil, fmt.Errorf("detect faces: %s", resp.Error)
	}

	return resp.Detections, nil
}
