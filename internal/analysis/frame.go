// Package analysis converts raw focus-lock camera frames into offset and
// quality estimates, and aggregates per-frame estimates into quality-gated
// samples for the lock control loop.
package analysis

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Frame is one raw camera frame: 16-bit storage carrying at least 12 bits
// of signal. Frames are immutable once captured.
type Frame struct {
	Pix    []uint16
	Width  int
	Height int
}

// NewFrame allocates a zero frame of the given size.
func NewFrame(width, height int) Frame {
	return Frame{
		Pix:    make([]uint16, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the pixel value at (x, y). The caller is responsible for
// bounds.
func (f Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Crop copies the given region out of the frame. The ROI must already be
// validated against the frame size.
func (f Frame) Crop(r ROI) Frame {
	out := NewFrame(r.Width(), r.Height())
	for y := r.Y0; y < r.Y1; y++ {
		src := f.Pix[y*f.Width+r.X0 : y*f.Width+r.X1]
		copy(out.Pix[(y-r.Y0)*out.Width:], src)
	}
	return out
}

// Preview renders the frame as an 8-bit grayscale image for display,
// discarding the low three bits of the sensor data.
func (f Frame) Preview() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		img.Pix[i] = uint8(v >> 3)
	}
	return img
}

// ROI is an axis-aligned rectangular sub-region of a frame, bounded by
// [X0,X1) horizontally and [Y0,Y1) vertically.
type ROI struct {
	X0, X1, Y0, Y1 int
}

// ParseROI parses an ROI from its configuration form "x0,x1,y0,y1".
func ParseROI(s string) (ROI, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ROI{}, fmt.Errorf("invalid ROI %q: expected 4 comma-separated values", s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ROI{}, fmt.Errorf("invalid ROI %q: %w", s, err)
		}
		vals[i] = v
	}
	roi := ROI{X0: vals[0], X1: vals[1], Y0: vals[2], Y1: vals[3]}
	if roi.X0 < 0 || roi.Y0 < 0 || roi.X1 <= roi.X0 || roi.Y1 <= roi.Y0 {
		return ROI{}, fmt.Errorf("invalid ROI %q: bounds must satisfy 0 <= x0 < x1 and 0 <= y0 < y1", s)
	}
	return roi, nil
}

// Width returns the ROI width in pixels.
func (r ROI) Width() int { return r.X1 - r.X0 }

// Height returns the ROI height in pixels.
func (r ROI) Height() int { return r.Y1 - r.Y0 }

// CheckBounds verifies the ROI fits inside a width x height frame.
func (r ROI) CheckBounds(width, height int) error {
	if r.X1 > width || r.Y1 > height {
		return fmt.Errorf("ROI %v exceeds frame size %dx%d", r, width, height)
	}
	return nil
}
