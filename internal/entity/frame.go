package entity

import "time"

// Frame is one still captured from the browser's video element.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	// Format is the encoding of Data: "jpeg" or "png".
	Format string
	Data   []byte
}

func (f Frame) Empty() bool {
	return len(f.Data) == 0
}
