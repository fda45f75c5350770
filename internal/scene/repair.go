package scene

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
)

const (
	// MinVisibleOpacity is the opacity below which a material is treated as invisible.
	MinVisibleOpacity = 0.05

	FallbackColor     Color = 0x999999
	AccentColor       Color = 0xff8800
	DefaultBackground Color = 0xf6f9fc

	safeMetalness = 0.05
	safeRoughness = 0.8
)

// IsSuspicious reports whether m is unlikely to render visibly: it is
// missing, hidden, nearly fully transparent, or flagged transparent with an
// opacity that coercion cannot fix.
func IsSuspicious(m *Material) bool {
	if m == nil || m.Disposed() || !m.Visible {
		return true
	}
	if !(m.Opacity >= MinVisibleOpacity) {
		return true
	}
	return m.Transparent && !canCoerce(m)
}

// canCoerce is true for semi-transparent materials that become visible by
// simply dropping the transparency.
func canCoerce(m *Material) bool {
	return m.Transparent && m.Opacity >= MinVisibleOpacity && m.Opacity < 1
}

// RepairStats counts what a repair pass did.
type RepairStats struct {
	Meshes   int
	Revealed int
	Replaced int
	Coerced  int
	Failed   int
}

// Changed is the number of edits made.
func (s RepairStats) Changed() int {
	return s.Revealed + s.Replaced + s.Coerced
}

// Repairer rewrites materials that would not render visibly.
type Repairer struct {
	background Color
	logger     *zap.Logger
}

// NewRepairer creates a Repairer. Substitute colors equal to background are
// swapped for AccentColor.
func NewRepairer(background Color, logger *zap.Logger) *Repairer {
	return &Repairer{
		background: background,
		logger:     logging.OrNop(logger).Named("repair"),
	}
}

// Repair walks g and fixes every mesh node in place. A failure on one node is
// logged and counted, and the walk continues.
func (r *Repairer) Repair(g *Graph) RepairStats {
	var stats RepairStats
	if g == nil || g.Root == nil {
		return stats
	}

	meshes := g.Meshes()
	retired := make(map[*Material]struct{})
	for _, n := range meshes {
		stats.Meshes++
		if err := r.repairNode(n, &stats, retired); err != nil {
			stats.Failed++
			r.logger.Warn("material repair failed", zap.String("node", n.Name), zap.Error(err))
		}
	}
	disposeDetached(meshes, retired)

	if stats.Changed() > 0 || stats.Failed > 0 {
		r.logger.Info("repaired scene",
			zap.Int("meshes", stats.Meshes),
			zap.Int("revealed", stats.Revealed),
			zap.Int("replaced", stats.Replaced),
			zap.Int("coerced", stats.Coerced),
			zap.Int("failed", stats.Failed))
	}
	return stats
}

// disposeDetached releases retired materials that no mesh references any
// more. The loaders share one material between every primitive that uses it.
func disposeDetached(meshes []*Node, retired map[*Material]struct{}) {
	if len(retired) == 0 {
		return
	}
	for _, n := range meshes {
		for _, m := range n.Materials {
			delete(retired, m)
		}
	}
	for m := range retired {
		m.Dispose()
	}
}

func (r *Repairer) repairNode(n *Node, stats *RepairStats, retired map[*Material]struct{}) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	for p := n; p != nil; p = p.parent {
		if !p.Visible {
			p.Visible = true
			stats.Revealed++
		}
	}

	if len(n.Materials) == 0 {
		n.Materials = []*Material{r.SafeMaterial(nil)}
		stats.Replaced++
		return nil
	}

	suspicious := false
	for _, m := range n.Materials {
		if IsSuspicious(m) {
			suspicious = true
			break
		}
	}

	if suspicious {
		// Slot indices may not survive a partial rewrite, so every slot
		// is replaced.
		old := n.Materials
		fresh := make([]*Material, len(old))
		for i, m := range old {
			fresh[i] = r.SafeMaterial(m)
		}
		n.Materials = fresh
		stats.Replaced += len(fresh)
		for _, m := range old {
			if m != nil {
				retired[m] = struct{}{}
			}
		}
		return nil
	}

	for _, m := range n.Materials {
		if canCoerce(m) {
			m.Transparent = false
			m.Opacity = 1
			m.NeedsUpdate = true
			stats.Coerced++
		}
	}
	return nil
}

// SafeMaterial builds an opaque, double-sided replacement that keeps src's
// color when it has one.
func (r *Repairer) SafeMaterial(src *Material) *Material {
	c := FallbackColor
	name := "safe"
	if src != nil {
		if src.HasColor {
			c = src.Color & 0xffffff
		}
		if src.Name != "" {
			name = src.Name + ":safe"
		}
	}
	if c == r.background&0xffffff {
		c = AccentColor
	}
	return &Material{
		Name:        name,
		Color:       c,
		HasColor:    true,
		Opacity:     1,
		Visible:     true,
		Metalness:   safeMetalness,
		Roughness:   safeRoughness,
		DoubleSided: true,
		NeedsUpdate: true,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
