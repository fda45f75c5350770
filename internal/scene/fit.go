package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
)

const (
	DefaultFOV  = 60.0
	DefaultNear = 0.01
	MinFar      = 1000.0

	// FlatEpsilon is the absolute depth below which a scene is always flat.
	FlatEpsilon = 1e-3
	// FlatRatio is the depth/diagonal ratio below which a scene is flat.
	FlatRatio = 0.005
	// LiftRatio is how far a flat scene is raised, as a share of the diagonal.
	LiftRatio = 0.15

	farScale      = 100.0
	clampFarScale = 500.0
)

// Viewport is the size of the output surface in CSS-style pixels.
type Viewport struct {
	Width            int
	Height           int
	DevicePixelRatio float64
}

// Aspect returns width/height with the height clamped to at least 1.
func (v Viewport) Aspect() float64 {
	h := v.Height
	if h < 1 {
		h = 1
	}
	return float64(v.Width) / float64(h)
}

// PixelRatio returns the device pixel ratio capped at 2, defaulting to 1.
func (v Viewport) PixelRatio() float64 {
	dpr := v.DevicePixelRatio
	if !(dpr > 0) || math.IsInf(dpr, 0) {
		dpr = 1
	}
	return math.Min(dpr, 2)
}

// Camera is a perspective camera. FOV is vertical, in degrees.
type Camera struct {
	Position mgl64.Vec3
	Target   mgl64.Vec3
	Up       mgl64.Vec3
	FOV      float64
	Aspect   float64
	Near     float64
	Far      float64
}

// NewCamera returns a camera at the origin looking down -Z.
func NewCamera(fov, aspect, near, far float64) *Camera {
	return &Camera{
		Target: mgl64.Vec3{0, 0, -1},
		Up:     mgl64.Vec3{0, 1, 0},
		FOV:    fov,
		Aspect: aspect,
		Near:   near,
		Far:    far,
	}
}

// LookAt aims the camera at target.
func (c *Camera) LookAt(target mgl64.Vec3) {
	c.Target = target
}

// View returns the world-to-camera matrix.
func (c *Camera) View() mgl64.Mat4 {
	up := c.Up
	if up.Len() == 0 {
		up = mgl64.Vec3{0, 1, 0}
	}
	return mgl64.LookAtV(c.Position, c.Target, up)
}

// Projection returns the perspective projection matrix.
func (c *Camera) Projection() mgl64.Mat4 {
	aspect := c.Aspect
	if !(aspect > 0) {
		aspect = 1
	}
	return mgl64.Perspective(mgl64.DegToRad(c.FOV), aspect, c.Near, c.Far)
}

// Clone returns a copy.
func (c *Camera) Clone() *Camera {
	cp := *c
	return &cp
}

// FitResult describes one auto-fit.
type FitResult struct {
	Volume BoundingVolume
	Flat   bool
	Lift   float64
	Camera *Camera
	Reused bool
}

// Fitter frames a scene with a camera.
type Fitter struct {
	logger *zap.Logger
}

// NewFitter creates a Fitter.
func NewFitter(logger *zap.Logger) *Fitter {
	return &Fitter{logger: logging.OrNop(logger).Named("fit")}
}

// IsFlat reports whether vol's depth (Z) extent is negligible.
func IsFlat(vol BoundingVolume) bool {
	return vol.Size.Z() <= math.Max(FlatEpsilon, FlatRatio*vol.Diagonal)
}

// Fit frames g with existing, or with a new camera when existing is nil, and
// returns the camera to register with the host.
func (f *Fitter) Fit(g *Graph, existing *Camera, vp Viewport) *Camera {
	return f.FitDetailed(g, existing, vp).Camera
}

// FitDetailed is Fit with the intermediate measurements. A flat scene has its
// root raised by LiftRatio of the diagonal, and the camera aims at the raised
// centre.
func (f *Fitter) FitDetailed(g *Graph, existing *Camera, vp Viewport) FitResult {
	vol := Measure(g)
	d := vol.Diagonal
	res := FitResult{Volume: vol}

	center := vol.Center
	if !finiteVec(center) {
		center = mgl64.Vec3{}
	}

	if !vol.Empty && IsFlat(vol) && g != nil && g.Root != nil {
		res.Flat = true
		res.Lift = LiftRatio * d
		g.Root.Position = g.Root.Position.Add(mgl64.Vec3{0, res.Lift, 0})
		center = center.Add(mgl64.Vec3{0, res.Lift, 0})
		f.logger.Debug("flat model lifted", zap.Float64("depth", vol.Size.Z()), zap.Float64("lift", res.Lift))
	}

	cam := existing
	if cam != nil {
		res.Reused = true
		if vp.Width > 0 {
			cam.Aspect = vp.Aspect()
		}
	} else {
		cam = NewCamera(DefaultFOV, vp.Aspect(), DefaultNear, math.Max(farScale*d, MinFar))
	}

	cam.Position = center.Add(mgl64.Vec3{d, d, d})
	cam.Up = mgl64.Vec3{0, 1, 0}
	cam.LookAt(center)

	if !(cam.Near > 0) || cam.Near > DefaultNear {
		cam.Near = DefaultNear
	}
	if !finite(cam.Far) || cam.Far < clampFarScale*d {
		cam.Far = clampFarScale * d
	}
	if cam.Far <= cam.Near {
		cam.Far = math.Max(MinFar, clampFarScale*d)
	}
	if !(cam.FOV > 0 && cam.FOV < 180) {
		cam.FOV = DefaultFOV
	}

	res.Camera = cam
	f.logger.Debug("camera fitted",
		zap.Float64("diagonal", d),
		zap.Bool("reused", res.Reused),
		zap.Float64("near", cam.Near),
		zap.Float64("far", cam.Far))
	return res
}

func finiteVec(v mgl64.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}
