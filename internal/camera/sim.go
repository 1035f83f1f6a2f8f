package camera

import (
	"fmt"
	"math"
	"sync"

	"github.com/arcus-instruments/focuslock/internal/analysis"
)

// SimCamera is a synthetic lock camera for dev mode and tests. Each
// GetFrames call renders one frame containing two Gaussian spots whose
// vertical separation drifts sinusoidally, exercising the full analysis
// path without hardware.
type SimCamera struct {
	mu        sync.Mutex
	width     int
	height    int
	props     map[string]int
	acquiring bool
	shutdown  bool
	n         int

	// Drift controls the amplitude (pixels) and period (frames) of the
	// simulated focus wander.
	DriftAmplitude float64
	DriftPeriod    float64
}

// NewSimCamera creates a simulator producing width x height frames.
func NewSimCamera(width, height int) *SimCamera {
	return &SimCamera{
		width:          width,
		height:         height,
		DriftAmplitude: 2.0,
		DriftPeriod:    600,
		props: map[string]int{
			PropOffsetX:    0,
			PropOffsetY:    0,
			PropOffsetXMax: 512,
			PropOffsetYMax: 512,
			PropExposure:   5000,
			PropGain:       10,
		},
	}
}

func (c *SimCamera) StartAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return fmt.Errorf("camera is shut down")
	}
	c.acquiring = true
	return nil
}

func (c *SimCamera) StopAcquisition() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquiring = false
	return nil
}

func (c *SimCamera) GetFrames() ([]analysis.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return nil, fmt.Errorf("camera is shut down")
	}
	if !c.acquiring {
		return nil, nil
	}

	c.n++
	drift := c.DriftAmplitude * math.Sin(2*math.Pi*float64(c.n)/c.DriftPeriod)

	f := analysis.NewFrame(c.width, c.height)
	cx := float64(c.width) / 2
	cy := float64(c.height) / 4
	renderSpot(f, cx, cy, 3000, 1.5)
	renderSpot(f, cx, 3*cy+drift, 3000, 1.5)
	return []analysis.Frame{f}, nil
}

func (c *SimCamera) GetProperty(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.props[name]
	if !ok {
		return 0, fmt.Errorf("unknown camera property %q", name)
	}
	return v, nil
}

func (c *SimCamera) SetProperty(name string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.props[name]; !ok {
		return fmt.Errorf("unknown camera property %q", name)
	}
	c.props[name] = value
	return nil
}

func (c *SimCamera) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
	c.acquiring = false
	return nil
}

func renderSpot(f analysis.Frame, cx, cy, amplitude, sigma float64) {
	// Only touch pixels within 4 sigma; the rest stay dark.
	r := int(math.Ceil(4 * sigma))
	x0 := int(cx) - r
	x1 := int(cx) + r
	y0 := int(cy) - r
	y1 := int(cy) + r
	for y := y0; y <= y1; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		for x := x0; x <= x1; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			v := amplitude * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
			idx := y*f.Width + x
			sum := uint32(f.Pix[idx]) + uint32(v)
			if sum > math.MaxUint16 {
				sum = math.MaxUint16
			}
			f.Pix[idx] = uint16(sum)
		}
	}
}
