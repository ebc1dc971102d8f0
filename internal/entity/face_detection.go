package entity

// ExpressionReading maps an emotion name to its probability for one face.
type ExpressionReading map[string]float64

type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Box         Box               `json:"box"`
	Score       float64           `json:"score"`
	Expressions ExpressionReading `json:"expressions,omitempty"`
}
