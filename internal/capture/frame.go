// Package capture defines the frames, constraints and errors shared by video
// sources. Implementations live in subpackages.
package capture

import (
	"errors"
	"time"
)

var (
	// ErrAcquisition means the source could not be opened or produced no frame.
	ErrAcquisition = errors.New("frame acquisition failed")
	// ErrClosed is returned by Next after Close or end of stream.
	ErrClosed = errors.New("frame source closed")
)

// Frame is one decoded image in packed RGB (3 bytes per pixel, row-major).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// Blank returns an all-black frame of the given size.
func Blank(width, height int) Frame {
	return Frame{
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      make([]byte, width*height*3),
	}
}

// Facing selects between front and rear cameras.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints are the requested capture properties.
type Constraints struct {
	Width  int
	Height int
	Facing Facing
	FPS    float64
}

// Stats counts frames seen by a source since Open.
type Stats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	FramesDropped  uint64 `json:"frames_dropped"`
}
