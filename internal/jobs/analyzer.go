package jobs

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/report"
	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

// tagPattern matches ISA-style instrument tags such as FT-101 or PT-7A.
var tagPattern = regexp.MustCompile(`\b([A-Z]{2,4})-(\d{1,5}[A-Z]?)\b`)

var instrumentTypes = map[string]string{
	"FE":  "flow element",
	"FIT": "flow indicating transmitter",
	"FT":  "flow transmitter",
	"FV":  "flow valve",
	"LT":  "level transmitter",
	"PT":  "pressure transmitter",
	"PI":  "pressure indicator",
	"TT":  "temperature transmitter",
	"TE":  "temperature element",
}

// SceneAnalyzer loads an uploaded glTF model and reports the tagged nodes it
// contains. A fixture report, when set, replaces the scan result but the
// model must still load.
type SceneAnalyzer struct {
	loader  *viewer.GLTFLoader
	fixture *models.Report
	logger  *zap.Logger
}

// NewSceneAnalyzer creates an analyzer. fixture may be nil.
func NewSceneAnalyzer(fixture *models.Report, logger *zap.Logger) *SceneAnalyzer {
	logger = logging.OrNop(logger).Named("analyzer")
	return &SceneAnalyzer{
		loader:  viewer.NewGLTFLoader(scene.DefaultBackground, logger),
		fixture: fixture,
		logger:  logger,
	}
}

// Analyze implements Analyzer.
func (a *SceneAnalyzer) Analyze(ctx context.Context, path string) (*models.Report, error) {
	g, err := a.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	defer g.Dispose()

	if a.fixture != nil {
		a.logger.Debug("serving fixture report", zap.String("file", filepath.Base(path)))
		return &models.Report{Instruments: append([]models.Instrument(nil), a.fixture.Instruments...)}, nil
	}
	return ScanInstruments(g), nil
}

// ScanInstruments reports one instrument per node whose name carries a tag,
// located at the centre of the node's world bounding box. Only the first node
// seen for a tag counts.
func ScanInstruments(g *scene.Graph) *models.Report {
	out := &models.Report{Instruments: []models.Instrument{}}
	if g == nil || g.Root == nil {
		return out
	}

	seen := make(map[string]bool)
	g.Root.Traverse(func(n *scene.Node) {
		m := tagPattern.FindStringSubmatch(strings.ToUpper(n.Name))
		if m == nil {
			return
		}
		tag := m[1] + "-" + m[2]
		if seen[tag] {
			return
		}
		seen[tag] = true

		inst := models.Instrument{
			Tag:      tag,
			Type:     instrumentTypes[m[1]],
			Location: nodeLocation(n),
		}
		if tilt, ok := nodeTilt(n); ok {
			inst.Orientation = &models.Orientation{TiltDeg: &tilt}
			if math.Abs(tilt) > report.TiltToleranceDeg {
				inst.Suggestions = append(inst.Suggestions,
					fmt.Sprintf("Re-mount %s vertically (tilted %.1f°)", tag, tilt))
			}
		}
		out.Instruments = append(out.Instruments, inst)
	})
	return out
}

func nodeLocation(n *scene.Node) []float64 {
	box := scene.ComputeBox(n)
	var p mgl64.Vec3
	if box.IsEmpty() {
		p = n.WorldMatrix().Col(3).Vec3()
	} else {
		p = box.Center()
	}
	return []float64{p[0], p[1], p[2]}
}

// nodeTilt is the angle in degrees between the node's world up axis and +Y.
func nodeTilt(n *scene.Node) (float64, bool) {
	up := n.WorldMatrix().Mul4x1(mgl64.Vec4{0, 1, 0, 0}).Vec3()
	l := up.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, false
	}
	cos := mgl64.Clamp(up.Dot(mgl64.Vec3{0, 1, 0})/l, -1, 1)
	return mgl64.RadToDeg(math.Acos(cos)), true
}

// LoadFixture reads a JSON or msgpack report, picking the format from the
// file extension.
func LoadFixture(path string) (*models.Report, error) {
	r, err := report.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading fixture: %w", err)
	}
	return r, nil
}
