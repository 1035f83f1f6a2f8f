// Package camera runs the focus-lock acquisition loop: it pulls frame
// bursts from the lock camera, bounds the analysis backlog, and feeds the
// frame analyzer and sample accumulator. The vendor SDK sits behind the
// Camera interface.
package camera

import "github.com/arcus-instruments/focuslock/internal/analysis"

// Property names recognized by Camera implementations. The set mirrors a
// typical machine-vision SDK surface; implementations may support more.
const (
	PropOffsetX    = "OffsetX"
	PropOffsetY    = "OffsetY"
	PropOffsetXMax = "OffsetXMax"
	PropOffsetYMax = "OffsetYMax"
	PropExposure   = "ExposureTime"
	PropGain       = "Gain"
)

// Camera is the acquisition surface of the focus-lock camera. GetFrames
// returns every frame captured since the previous call, which may be empty
// under light load or a long burst when analysis falls behind.
type Camera interface {
	StartAcquisition() error
	StopAcquisition() error
	GetFrames() ([]analysis.Frame, error)
	GetProperty(name string) (int, error)
	SetProperty(name string, value int) error
	Shutdown() error
}
