package emotion

import (
	"fmt"
	"math"
	"sync"

	"EmotionOverlay/internal/entity"
)

type Bar struct {
	Emotion string `json:"emotion"`
	Color   string `json:"color"`
	// Width is the bar width in percent.
	Width int    `json:"width"`
	Label string `json:"label"`
}

type Dominant struct {
	Emotion string `json:"emotion,omitempty"`
	Icon    string `json:"icon"`
	Color   string `json:"color,omitempty"`
	Value   string `json:"value"`
}

// Snapshot is the visible state of the display.
type Snapshot struct {
	Bars     []Bar    `json:"bars"`
	Dominant Dominant `json:"dominant"`
}

// Sink receives the display state after every Render or Reset.
type Sink interface {
	ShowEmotions(Snapshot)
}

type Display struct {
	mu       sync.Mutex
	bars     []Bar
	dominant Dominant
	sink     Sink
}

// NewDisplay returns a display at its idle baseline. sink may be nil.
func NewDisplay(sink Sink) *Display {
	d := &Display{
		bars: make([]Bar, len(profile)),
		sink: sink,
	}
	for i, e := range profile {
		d.bars[i] = Bar{Emotion: e.Name, Color: e.Color}
	}
	d.resetLocked()
	return d
}

// Render projects reading onto the bars and picks the dominant emotion.
// Emotions are visited in profile order and only a strictly greater value
// replaces the current maximum, so ties go to the earlier emotion.
func (d *Display) Render(reading entity.ExpressionReading) {
	d.mu.Lock()

	best := -1
	bestValue := 0.0
	for i, e := range profile {
		value, ok := reading[e.Name]
		if !ok {
			continue
		}

		pct := percent(value)
		d.bars[i].Width = clampWidth(pct)
		d.bars[i].Label = label(pct)

		if best < 0 || value > bestValue {
			best = i
			bestValue = value
		}
	}

	if best >= 0 {
		e := profile[best]
		d.dominant = Dominant{
			Emotion: e.Name,
			Icon:    e.Icon,
			Color:   e.Color,
			Value:   label(percent(bestValue)),
		}
	}

	snap := d.snapshotLocked()
	d.mu.Unlock()

	d.publish(snap)
}

func (d *Display) Reset() {
	d.mu.Lock()
	d.resetLocked()
	snap := d.snapshotLocked()
	d.mu.Unlock()

	d.publish(snap)
}

func (d *Display) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Display) resetLocked() {
	for i := range d.bars {
		d.bars[i].Width = 0
		d.bars[i].Label = "0%"
	}
	d.dominant = Dominant{Icon: IdleIcon, Value: "0%"}
}

func (d *Display) snapshotLocked() Snapshot {
	bars := make([]Bar, len(d.bars))
	copy(bars, d.bars)
	return Snapshot{Bars: bars, Dominant: d.dominant}
}

func (d *Display) publish(snap Snapshot) {
	if d.sink != nil {
		d.sink.ShowEmotions(snap)
	}
}

func percent(value float64) int {
	return int(math.Round(value * 100))
}

func clampWidth(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

func label(pct int) string {
	return fmt.Sprintf("%d%%", pct)
}
