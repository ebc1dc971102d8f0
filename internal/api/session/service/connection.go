package sessionService

import (
	"sync"

	"EmotionOverlay/internal/api/session"
	"EmotionOverlay/internal/detection"
	"EmotionOverlay/internal/emotion"
	"EmotionOverlay/internal/model"
	contextPkg "EmotionOverlay/pkg/context"
	"EmotionOverlay/pkg/log"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

// Connection binds one browser page to its detection session.
type Connection struct {
	ID string

	session *detection.Session
	browser *browserClient
	runtime model.Runtime
	log     *logrus.Entry

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// PushFrame hands a camera frame from the page to the session.
func (c *Connection) PushFrame(data []byte) error {
	return c.browser.PushFrame(data)
}

// Command applies a control message from the page. Starting runs in the
// background because it waits for model loading and for camera frames that
// arrive on the same connection.
func (c *Connection) Command(ctx context.Context, msg session.ClientMessage) error {
	ctx = contextPkg.WithSessionID(ctx, c.ID)

	switch msg.Type {
	case session.MessageToggle:
		if c.session.Active() {
			c.session.Stop()
			return nil
		}
		c.startAsync(ctx)
		return nil

	case session.MessageStart:
		if c.session.Active() {
			return detection.ErrAlreadyActive
		}
		c.startAsync(ctx)
		return nil

	case session.MessageStop:
		c.session.Stop()
		return nil

	case session.MessageCameraError:
		c.browser.CameraError(msg.Error)
		return nil

	default:
		return session.ErrBadRequest
	}
}

func (c *Connection) startAsync(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.session.Start(ctx); err != nil {
			log.WithRequestID(ctx).WithFields(logrus.Fields{
				log.SessionIDKey: contextPkg.GetSessionID(ctx),
				"error":          err.Error(),
			}).Warn("session start did not complete")
		}
	}()
}

func (c *Connection) Info() detection.Info {
	return c.session.Info()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.session.Close()
		c.wg.Wait()
		c.browser.close()
		closeRuntime(c.runtime)
		c.log.Info("connection closed")
	})
}

func newDisplay(browser *browserClient) *emotion.Display {
	return emotion.NewDisplay(browser)
}

func helloEvent(id string, cons detection.Constraints, snap emotion.Snapshot) session.HelloEvent {
	return session.HelloEvent{
		Type:        session.EventHello,
		SessionID:   id,
		Constraints: session.Constraints{Width: cons.Width, Height: cons.Height},
		Emotions:    emotion.Profile(),
		Display:     snap,
		Label:       session.LabelStartCamera,
	}
}
