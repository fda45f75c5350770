package viewer

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifc-inspector/inspector/internal/scene"
)

func cubeGraph(mat *scene.Material) *scene.Graph {
	g := scene.NewGraph(scene.DefaultBackground)
	g.Root.Add(scene.NewMesh("cube", scene.NewBoxGeometry(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 1, 1}), mat))
	return g
}

func countColor(r *SoftwareRenderer, c scene.Color) int {
	frame := r.Frame()
	want := c.RGBA()
	n := 0
	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if frame.RGBAAt(x, y) == want {
				n++
			}
		}
	}
	return n
}

func TestSoftwareRenderer_DrawsVisibleMesh(t *testing.T) {
	g := cubeGraph(scene.NewMaterial(0xff0000))
	cam := scene.NewFitter(nil).Fit(g, nil, testViewport)

	r := NewSoftwareRenderer(scene.DefaultBackground)
	r.SetSize(160, 90)
	r.SetPixelRatio(2)
	require.NoError(t, r.Render(g, cam))

	stats := r.Stats()
	assert.Equal(t, 320, stats.Width)
	assert.Equal(t, 180, stats.Height)
	assert.Equal(t, 1, stats.Drawn)
	assert.Greater(t, countColor(r, 0xff0000), 0)
}

func TestSoftwareRenderer_InvisibleMaterialDrawsNothing(t *testing.T) {
	g := cubeGraph(&scene.Material{Color: 0xff0000, HasColor: true, Opacity: 0, Visible: true})
	cam := scene.NewFitter(nil).Fit(g, nil, testViewport)

	r := NewSoftwareRenderer(scene.DefaultBackground)
	r.SetSize(100, 100)
	require.NoError(t, r.Render(g, cam))

	assert.Equal(t, 0, r.Stats().Drawn)
	assert.Equal(t, 1, r.Stats().Hidden)
	assert.Zero(t, countColor(r, 0xff0000))
}

func TestSoftwareRenderer_BehindCamera(t *testing.T) {
	g := cubeGraph(scene.NewMaterial(0xff0000))
	cam := scene.NewCamera(60, 1, 0.01, 100)
	cam.Position = mgl64.Vec3{0, 0, -10}
	cam.LookAt(mgl64.Vec3{0, 0, -20})

	r := NewSoftwareRenderer(scene.DefaultBackground)
	r.SetSize(100, 100)
	require.NoError(t, r.Render(g, cam))
	assert.Equal(t, 0, r.Stats().Drawn)
}

func TestSoftwareRenderer_Errors(t *testing.T) {
	r := NewSoftwareRenderer(scene.DefaultBackground)
	g := cubeGraph(scene.NewMaterial(0xff0000))

	assert.Error(t, r.Render(nil, scene.NewCamera(60, 1, 0.01, 100)))
	assert.Error(t, r.Render(g, nil))

	r.SetSize(0, 0)
	assert.Error(t, r.Render(g, scene.NewCamera(60, 1, 0.01, 100)))
	assert.Zero(t, r.Frames())
}

func TestClipLine(t *testing.T) {
	x0, y0, x1, y1, ok := clipLine(-10, 5, 20, 5, 0, 0, 9, 9)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 5, 9, 5}, []float64{x0, y0, x1, y1})

	_, _, _, _, ok = clipLine(-10, -10, -5, -5, 0, 0, 9, 9)
	assert.False(t, ok)
}
