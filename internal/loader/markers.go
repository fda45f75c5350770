package loader

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/report"
	"github.com/ifc-inspector/inspector/internal/scene"
)

const (
	MarkerPass scene.Color = 0x10b981
	MarkerFail scene.Color = 0xef4444

	markerGroupName = "instrument-markers"
	markerScale     = 0.01
	minMarkerSize   = 0.05
)

// ShowInstruments replaces the instrument markers of the current model with
// one marker per located instrument, green when it passes and red when it
// does not, then re-renders. It returns the number of markers placed.
func (l *Loader) ShowInstruments(r *models.Report) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.current == nil || l.current.Graph == nil {
		return 0
	}
	g := l.current.Graph

	if l.markers != nil {
		g.Root.Remove(l.markers)
		disposeSubtree(l.markers)
		l.markers = nil
	}
	if r == nil || len(r.Instruments) == 0 {
		l.renderLocked(g)
		return 0
	}

	size := math.Max(markerScale*scene.Measure(g).Diagonal, minMarkerSize)
	half := size / 2

	group := scene.NewNode(markerGroupName)
	for _, in := range r.Instruments {
		pos, ok := location(in)
		if !ok {
			continue
		}
		c := MarkerFail
		if report.Evaluate(in).Pass {
			c = MarkerPass
		}
		m := scene.NewMesh("marker:"+in.Tag,
			scene.NewBoxGeometry(mgl64.Vec3{-half, -half, -half}, mgl64.Vec3{half, half, half}),
			scene.NewMaterial(c))
		m.Position = pos
		group.Add(m)
	}

	if len(group.Children) == 0 {
		l.renderLocked(g)
		return 0
	}
	g.Root.Add(group)
	l.markers = group
	l.renderLocked(g)

	l.logger.Debug("instrument markers placed", zap.Int("count", len(group.Children)))
	return len(group.Children)
}

func location(in models.Instrument) (mgl64.Vec3, bool) {
	if len(in.Location) < 3 {
		return mgl64.Vec3{}, false
	}
	v := mgl64.Vec3{in.Location[0], in.Location[1], in.Location[2]}
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return mgl64.Vec3{}, false
		}
	}
	return v, true
}

func disposeSubtree(n *scene.Node) {
	n.Traverse(func(c *scene.Node) {
		c.Geometry.Dispose()
		for _, m := range c.Materials {
			m.Dispose()
		}
	})
}
