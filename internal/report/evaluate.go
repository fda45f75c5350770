// Package report turns an analysis report into table rows and export files.
package report

import (
	"math"

	"github.com/ifc-inspector/inspector/internal/models"
)

// TiltToleranceDeg is the largest mounting tilt accepted when the report
// carries no explicit vertical verdict.
const TiltToleranceDeg = 3.0

// Evaluation is the verdict for one instrument.
type Evaluation struct {
	UpstreamOK    bool
	DownstreamOK  bool
	OrientationOK bool
	Pass          bool
}

// Evaluate checks straight runs and orientation. An explicit vertical_pass
// wins over tilt_deg; with neither, orientation is accepted.
func Evaluate(in models.Instrument) Evaluation {
	var e Evaluation
	if in.PassFail != nil {
		e.UpstreamOK = in.PassFail.Upstream
		e.DownstreamOK = in.PassFail.Downstream
	}

	e.OrientationOK = true
	if o := in.Orientation; o != nil {
		switch {
		case o.VerticalPass != nil:
			e.OrientationOK = *o.VerticalPass
		case o.TiltDeg != nil:
			e.OrientationOK = math.Abs(*o.TiltDeg) <= TiltToleranceDeg
		}
	}

	e.Pass = e.UpstreamOK && e.DownstreamOK && e.OrientationOK
	return e
}
