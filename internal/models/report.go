package models

// Report is the analysis result consumed by the table and scene layers.
type Report struct {
	Instruments []Instrument `json:"instruments" msgpack:"instruments"`
}

// Instrument is one flow instrument found in the model.
type Instrument struct {
	Tag            string       `json:"tag" msgpack:"tag"`
	Type           string       `json:"type,omitempty" msgpack:"type,omitempty"`
	Location       []float64    `json:"location,omitempty" msgpack:"location,omitempty"`
	PipeDiameterMM *float64     `json:"pipe_diameter_mm,omitempty" msgpack:"pipe_diameter_mm,omitempty"`
	Measured       *Measured    `json:"measured,omitempty" msgpack:"measured,omitempty"`
	Orientation    *Orientation `json:"orientation,omitempty" msgpack:"orientation,omitempty"`
	PassFail       *PassFail    `json:"pass_fail,omitempty" msgpack:"pass_fail,omitempty"`
	Suggestions    []string     `json:"suggestions,omitempty" msgpack:"suggestions,omitempty"`
}

// Measured holds straight-run lengths around the instrument, in metres.
type Measured struct {
	UpstreamM   *float64 `json:"upstream_m,omitempty" msgpack:"upstream_m,omitempty"`
	DownstreamM *float64 `json:"downstream_m,omitempty" msgpack:"downstream_m,omitempty"`
}

// Orientation describes how the instrument is mounted.
type Orientation struct {
	TiltDeg      *float64 `json:"tilt_deg,omitempty" msgpack:"tilt_deg,omitempty"`
	VerticalPass *bool    `json:"vertical_pass,omitempty" msgpack:"vertical_pass,omitempty"`
}

// PassFail holds the straight-run verdicts.
type PassFail struct {
	Upstream   bool `json:"upstream" msgpack:"upstream"`
	Downstream bool `json:"downstream" msgpack:"downstream"`
}
