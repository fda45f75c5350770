package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/scene"
)

// visibilityExtension carries per-node visibility in glTF exports.
const visibilityExtension = "KHR_node_visibility"

var identity16 = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

// GLTFLoader turns a .gltf or .glb file into a scene graph. Only what the
// repair and fit passes need is kept: node transforms, per-primitive
// materials and POSITION bounds.
type GLTFLoader struct {
	Background scene.Color
	logger     *zap.Logger
}

// NewGLTFLoader creates a loader whose graphs use background as their
// backdrop color.
func NewGLTFLoader(background scene.Color, logger *zap.Logger) *GLTFLoader {
	return &GLTFLoader{
		Background: background,
		logger:     logging.OrNop(logger).Named("gltf"),
	}
}

// Supported reports whether path has a glTF extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
		return true
	}
	return false
}

// Load opens path and builds its default scene.
func (l *GLTFLoader) Load(ctx context.Context, path string) (*scene.Graph, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, err := l.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("building scene from %s: %w", filepath.Base(path), err)
	}
	return g, nil
}

// Build converts a decoded document.
func (l *GLTFLoader) Build(doc *gltf.Document) (*scene.Graph, error) {
	g := scene.NewGraph(l.Background)

	materials := make([]*scene.Material, len(doc.Materials))
	for i, m := range doc.Materials {
		materials[i] = convertMaterial(m)
	}

	var roots []int
	switch {
	case doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes):
		roots = doc.Scenes[*doc.Scene].Nodes
	case len(doc.Scenes) > 0:
		roots = doc.Scenes[0].Nodes
	default:
		roots = rootNodes(doc)
	}

	b := &graphBuilder{doc: doc, materials: materials, visiting: make(map[int]bool)}
	for _, idx := range roots {
		n, err := b.node(idx)
		if err != nil {
			return nil, err
		}
		g.Root.Add(n)
	}

	l.logger.Debug("scene built",
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("meshes", b.meshes),
		zap.Int("materials", len(materials)))
	return g, nil
}

type graphBuilder struct {
	doc       *gltf.Document
	materials []*scene.Material
	visiting  map[int]bool
	meshes    int
}

func (b *graphBuilder) node(idx int) (*scene.Node, error) {
	if idx < 0 || idx >= len(b.doc.Nodes) {
		return nil, fmt.Errorf("node index %d out of range", idx)
	}
	if b.visiting[idx] {
		return nil, fmt.Errorf("node %d is part of a cycle", idx)
	}
	b.visiting[idx] = true
	defer delete(b.visiting, idx)

	src := b.doc.Nodes[idx]
	n := scene.NewNode(src.Name)
	if n.Name == "" {
		n.Name = fmt.Sprintf("node-%d", idx)
	}
	applyTransform(n, src)
	n.Visible = nodeVisible(src)

	if src.Mesh != nil {
		if err := b.mesh(n, *src.Mesh); err != nil {
			return nil, err
		}
	}

	for _, c := range src.Children {
		child, err := b.node(c)
		if err != nil {
			return nil, err
		}
		n.Add(child)
	}
	return n, nil
}

func (b *graphBuilder) mesh(n *scene.Node, idx int) error {
	if idx < 0 || idx >= len(b.doc.Meshes) {
		return fmt.Errorf("mesh index %d out of range", idx)
	}
	m := b.doc.Meshes[idx]

	bounds := scene.EmptyBox()
	vertices := 0
	slots := make([]*scene.Material, 0, len(m.Primitives))
	for _, p := range m.Primitives {
		if pos, ok := p.Attributes[gltf.POSITION]; ok && pos >= 0 && pos < len(b.doc.Accessors) {
			acc := b.doc.Accessors[pos]
			if len(acc.Min) >= 3 && len(acc.Max) >= 3 {
				bounds.ExpandByPoint(mgl64.Vec3{acc.Min[0], acc.Min[1], acc.Min[2]})
				bounds.ExpandByPoint(mgl64.Vec3{acc.Max[0], acc.Max[1], acc.Max[2]})
			}
			vertices += acc.Count
		}

		var mat *scene.Material
		if p.Material != nil && *p.Material >= 0 && *p.Material < len(b.materials) {
			mat = b.materials[*p.Material]
		}
		slots = append(slots, mat)
	}

	if bounds.IsEmpty() {
		bounds.ExpandByPoint(mgl64.Vec3{})
	}
	n.Geometry = &scene.Geometry{Min: bounds.Min, Max: bounds.Max, Vertices: vertices}
	n.Materials = slots
	if m.Name != "" && strings.HasPrefix(n.Name, "node-") {
		n.Name = m.Name
	}
	b.meshes++
	return nil
}

func applyTransform(n *scene.Node, src *gltf.Node) {
	if m := src.MatrixOrDefault(); m != identity16 {
		mat := mgl64.Mat4(m)
		n.Position = mat.Col(3).Vec3()
		sx := mat.Col(0).Vec3().Len()
		sy := mat.Col(1).Vec3().Len()
		sz := mat.Col(2).Vec3().Len()
		n.Scale = mgl64.Vec3{sx, sy, sz}
		if sx > 0 && sy > 0 && sz > 0 {
			rot := mgl64.Mat4FromCols(
				mat.Col(0).Mul(1/sx),
				mat.Col(1).Mul(1/sy),
				mat.Col(2).Mul(1/sz),
				mgl64.Vec4{0, 0, 0, 1},
			)
			n.Rotation = mgl64.Mat4ToQuat(rot)
		}
		return
	}

	t := src.TranslationOrDefault()
	r := src.RotationOrDefault()
	s := src.ScaleOrDefault()
	n.Position = mgl64.Vec3{t[0], t[1], t[2]}
	n.Rotation = mgl64.Quat{W: r[3], V: mgl64.Vec3{r[0], r[1], r[2]}}
	n.Scale = mgl64.Vec3{s[0], s[1], s[2]}
}

func convertMaterial(src *gltf.Material) *scene.Material {
	if src == nil {
		return nil
	}
	m := &scene.Material{
		Name:        src.Name,
		Opacity:     1,
		Visible:     true,
		Roughness:   1,
		DoubleSided: src.DoubleSided,
		Transparent: src.AlphaMode == gltf.AlphaBlend,
	}

	rgba := [4]float64{1, 1, 1, 1}
	if pbr := src.PBRMetallicRoughness; pbr != nil {
		rgba = pbr.BaseColorFactorOrDefault()
		m.Metalness = pbr.MetallicFactorOrDefault()
		m.Roughness = pbr.RoughnessFactorOrDefault()
	}
	if c, ok := scene.ColorFromFloats(rgba[0], rgba[1], rgba[2]); ok {
		m.Color = c
		m.HasColor = true
	}
	m.Opacity = rgba[3]
	return m
}

// nodeVisible reads KHR_node_visibility, defaulting to visible.
func nodeVisible(src *gltf.Node) bool {
	ext, ok := src.Extensions[visibilityExtension]
	if !ok {
		return true
	}
	var v struct {
		Visible *bool `json:"visible"`
	}
	switch raw := ext.(type) {
	case json.RawMessage:
		if json.Unmarshal(raw, &v) != nil {
			return true
		}
	case map[string]any:
		if b, ok := raw["visible"].(bool); ok {
			return b
		}
		return true
	default:
		return true
	}
	return v.Visible == nil || *v.Visible
}

// rootNodes returns nodes that are nobody's child, for documents without scenes.
func rootNodes(doc *gltf.Document) []int {
	isChild := make(map[int]bool)
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var out []int
	for i := range doc.Nodes {
		if !isChild[i] {
			out = append(out, i)
		}
	}
	return out
}
