package detection

import (
	"context"

	"EmotionOverlay/internal/entity"
)

// ModelLoader owns the three models a session runs. See model.Loader.
type ModelLoader interface {
	LoadModels(ctx context.Context) error
	Ready() bool
	FullyInitialized() bool
}

type Detector interface {
	DetectFaces(ctx context.Context, frame entity.Frame) ([]entity.Detection, error)
}

// Constraints are the ideal capture dimensions requested from the camera.
type Constraints struct {
	Width  int
	Height int
}

type Camera interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired video stream. Width and Height are the native
// resolution, which may differ from the requested constraints.
type Stream interface {
	Latest() (entity.Frame, bool)
	Width() int
	Height() int
	Release()
}

type Overlay interface {
	Resize(width, height int)
	Clear()
	DrawDetection(d entity.Detection)
}

type StatusSink interface {
	SetStatus(msg string)
}

// ControlSurface is the start/stop toggle.
type ControlSurface interface {
	SetActive(active bool)
}

type noopControl struct{}

func (noopControl) SetActive(bool) {}
