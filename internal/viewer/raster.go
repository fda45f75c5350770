package viewer

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ifc-inspector/inspector/internal/scene"
)

// boxEdges indexes scene.Box.Corners pairs forming the twelve box edges.
var boxEdges = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// FrameStats describes the last rendered frame.
type FrameStats struct {
	Width, Height int
	Drawn         int
	Hidden        int
}

// SoftwareRenderer draws each mesh as the wireframe of its world bounding
// box. It is enough to tell whether a model is framed and visible.
type SoftwareRenderer struct {
	mu         sync.Mutex
	width      int
	height     int
	ratio      float64
	background scene.Color
	frame      *image.RGBA
	frames     int
	stats      FrameStats
}

// NewSoftwareRenderer creates a renderer with a 1x1 surface.
func NewSoftwareRenderer(background scene.Color) *SoftwareRenderer {
	return &SoftwareRenderer{width: 1, height: 1, ratio: 1, background: background}
}

// SetSize sets the output size in CSS-style pixels.
func (r *SoftwareRenderer) SetSize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = width, height
}

// SetPixelRatio sets the device pixel ratio.
func (r *SoftwareRenderer) SetPixelRatio(ratio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ratio = ratio
}

// Size returns the configured size and pixel ratio.
func (r *SoftwareRenderer) Size() (width, height int, ratio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height, r.ratio
}

// Frames returns how many frames were rendered.
func (r *SoftwareRenderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Stats returns the statistics of the last frame.
func (r *SoftwareRenderer) Stats() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Frame returns the last rendered frame, or nil.
func (r *SoftwareRenderer) Frame() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Render draws g as seen from cam.
func (r *SoftwareRenderer) Render(g *scene.Graph, cam *scene.Camera) error {
	if g == nil || g.Root == nil {
		return errors.New("no scene to render")
	}
	if cam == nil {
		return errors.New("no camera to render with")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ratio := r.ratio
	if !(ratio > 0) {
		ratio = 1
	}
	w := int(math.Round(float64(r.width) * ratio))
	h := int(math.Round(float64(r.height) * ratio))
	if w <= 0 || h <= 0 {
		return errors.New("output surface has zero size")
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: g.Background.RGBA()}, image.Point{}, draw.Src)

	vp := cam.Projection().Mul4(cam.View())
	stats := FrameStats{Width: w, Height: h}

	for _, n := range g.Meshes() {
		c, ok := visibleColor(n)
		if !ok {
			stats.Hidden++
			continue
		}
		box := n.WorldBox()
		if box.IsEmpty() {
			stats.Hidden++
			continue
		}
		corners := box.Corners()
		var projected [8]mgl64.Vec3
		var inFront [8]bool
		for i, p := range corners {
			projected[i], inFront[i] = project(vp, p, w, h)
		}
		drew := false
		for _, e := range boxEdges {
			if !inFront[e[0]] || !inFront[e[1]] {
				continue
			}
			if drawLine(img, projected[e[0]], projected[e[1]], c.RGBA()) {
				drew = true
			}
		}
		if drew {
			stats.Drawn++
		} else {
			stats.Hidden++
		}
	}

	r.frame = img
	r.frames++
	r.stats = stats
	return nil
}

// visibleColor returns the color the mesh shows, or false when it would
// not be seen at all.
func visibleColor(n *scene.Node) (scene.Color, bool) {
	for p := n; p != nil; p = p.Parent() {
		if !p.Visible {
			return 0, false
		}
	}
	for _, m := range n.Materials {
		if m == nil || !m.Visible || m.Opacity < scene.MinVisibleOpacity {
			continue
		}
		if m.HasColor {
			return m.Color, true
		}
		return scene.FallbackColor, true
	}
	return 0, false
}

func project(vp mgl64.Mat4, p mgl64.Vec3, w, h int) (mgl64.Vec3, bool) {
	clip := vp.Mul4x1(p.Vec4(1))
	if clip.W() <= 1e-9 {
		return mgl64.Vec3{}, false
	}
	ndc := clip.Vec3().Mul(1 / clip.W())
	x := (ndc.X() + 1) / 2 * float64(w)
	y := (1 - ndc.Y()) / 2 * float64(h)
	return mgl64.Vec3{x, y, ndc.Z()}, true
}

// drawLine clips a-b to the image and plots it. It reports whether any
// pixel was written.
func drawLine(img *image.RGBA, a, b mgl64.Vec3, c color.RGBA) bool {
	bounds := img.Bounds()
	x0, y0, x1, y1, ok := clipLine(a.X(), a.Y(), b.X(), b.Y(),
		0, 0, float64(bounds.Dx()-1), float64(bounds.Dy()-1))
	if !ok {
		return false
	}

	ix0, iy0 := int(math.Round(x0)), int(math.Round(y0))
	ix1, iy1 := int(math.Round(x1)), int(math.Round(y1))
	dx := abs(ix1 - ix0)
	dy := -abs(iy1 - iy0)
	sx, sy := 1, 1
	if ix0 > ix1 {
		sx = -1
	}
	if iy0 > iy1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(ix0, iy0, c)
		if ix0 == ix1 && iy0 == iy1 {
			return true
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			ix0 += sx
		}
		if e2 <= dx {
			e += dx
			iy0 += sy
		}
	}
}

// clipLine is Liang-Barsky clipping against [minX,maxX]x[minY,maxY].
func clipLine(x0, y0, x1, y1, minX, minY, maxX, maxY float64) (float64, float64, float64, float64, bool) {
	for _, v := range []float64{x0, y0, x1, y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, 0, false
		}
	}
	dx, dy := x1-x0, y1-y0
	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, x0 - minX},
		{dx, maxX - x0},
		{-dy, y0 - minY},
		{dy, maxY - y0},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			if t < t1 {
				t1 = t
			}
		}
	}
	return x0 + t0*dx, y0 + t0*dy, x0 + t1*dx, y0 + t1*dy, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
