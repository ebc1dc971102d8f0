package model

import (
	"context"
	"sync"

	"EmotionOverlay/internal/entity"
)

type Kind string

const (
	TinyFaceDetector   Kind = "tiny_face_detector"
	FaceLandmark68Tiny Kind = "face_landmark_68_tiny"
	FaceExpression     Kind = "face_expression"
)

// Kinds lists the models a session needs, in load order.
var Kinds = []Kind{TinyFaceDetector, FaceLandmark68Tiny, FaceExpression}

// Manifest is the weights manifest the runtime requests before any shard.
func (k Kind) Manifest() string {
	return string(k) + "_model-weights_manifest.json"
}

// LoadReport is what the runtime says about a finished load.
type LoadReport struct {
	// Initialized is set once the weight buffers are actually populated;
	// a load can return without error while this is still false.
	Initialized bool
}

// Runtime is the face detection / expression model runtime.
type Runtime interface {
	LoadModel(ctx context.Context, kind Kind, sourceURI string) (LoadReport, error)
	DetectFaces(ctx context.Context, frame entity.Frame) ([]entity.Detection, error)
}

// Net tracks the readiness of one model held by a Runtime.
type Net struct {
	kind    Kind
	runtime Runtime

	mu        sync.RWMutex
	readiness entity.ModelReadiness
	source    string
}

func NewNet(kind Kind, runtime Runtime) *Net {
	return &Net{kind: kind, runtime: runtime}
}

func (n *Net) Kind() Kind {
	return n.kind
}

func (n *Net) Load(ctx context.Context, sourceURI string) error {
	report, err := n.runtime.LoadModel(ctx, n.kind, sourceURI)

	n.mu.Lock()
	defer n.mu.Unlock()

	if err != nil {
		n.readiness = entity.ModelNotLoaded
		n.source = ""
		return err
	}

	n.source = sourceURI
	if report.Initialized {
		n.readiness = entity.ModelLoadedAndVerified
	} else {
		n.readiness = entity.ModelLoaded
	}
	return nil
}

func (n *Net) Readiness() entity.ModelReadiness {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.readiness
}

// Source is the base URI the model was last loaded from.
func (n *Net) Source() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.source
}

func (n *Net) IsLoaded() bool {
	return n.Readiness() >= entity.ModelLoaded
}

func (n *Net) IsFullyInitialized() bool {
	return n.Readiness() == entity.ModelLoadedAndVerified
}
