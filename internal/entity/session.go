package entity

type SessionState uint8

const (
	SessionIdle              SessionState = 0
	SessionModelsLoading     SessionState = 1
	SessionAwaitingReadiness SessionState = 2
	SessionDetecting         SessionState = 3
	SessionStopped           SessionState = 4
)

var SessionStateMap = map[SessionState]string{
	SessionIdle:              "idle",
	SessionModelsLoading:     "models_loading",
	SessionAwaitingReadiness: "awaiting_readiness",
	SessionDetecting:         "detecting",
	SessionStopped:           "stopped",
}

func (s SessionState) String() string {
	if name, ok := SessionStateMap[s]; ok {
		return name
	}
	return "unknown"
}

// Running reports whether the state belongs to an in-progress start or detection.
func (s SessionState) Running() bool {
	return s == SessionModelsLoading || s == SessionAwaitingReadiness || s == SessionDetecting
}

type ModelReadiness uint8

const (
	ModelNotLoaded         ModelReadiness = 0
	ModelLoaded            ModelReadiness = 1
	ModelLoadedAndVerified ModelReadiness = 2
)

var ModelReadinessMap = map[ModelReadiness]string{
	ModelNotLoaded:         "not_loaded",
	ModelLoaded:            "loaded",
	ModelLoadedAndVerified: "loaded_and_verified",
}

func (r ModelReadiness) String() string {
	if name, ok := ModelReadinessMap[r]; ok {
		return name
	}
	return "unknown"
}
