// Package scene holds the in-memory scene graph produced by the model loader
// and the two passes that make it safe to show: material repair and camera
// auto-fit.
package scene

import (
	"fmt"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Color is a 24-bit 0xRRGGBB value.
type Color uint32

// RGBA converts to an opaque image/color value.
func (c Color) RGBA() color.RGBA {
	return color.RGBA{R: uint8(c >> 16), G: uint8(c >> 8), B: uint8(c), A: 0xff}
}

// Hex formats as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%06x", uint32(c)&0xffffff)
}

// ColorFromFloats builds a Color from linear [0,1] components. ok is false if
// any component is not finite.
func ColorFromFloats(r, g, b float64) (Color, bool) {
	var out Color
	for _, v := range []float64{r, g, b} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		v = math.Max(0, math.Min(1, v))
		out = out<<8 | Color(math.Round(v*255))
	}
	return out, true
}

// Material is the renderable surface description of one mesh slot.
type Material struct {
	Name string

	// Color is only meaningful when HasColor is true.
	Color    Color
	HasColor bool

	Transparent bool
	Opacity     float64
	Visible     bool

	Metalness   float64
	Roughness   float64
	DoubleSided bool

	// NeedsUpdate is set whenever a pass rewrites the material in place.
	NeedsUpdate bool

	// OnDispose, if set, runs once when the material is released.
	OnDispose func()

	disposed bool
}

// NewMaterial returns a visible, opaque material of the given color.
func NewMaterial(c Color) *Material {
	return &Material{
		Color:     c,
		HasColor:  true,
		Opacity:   1,
		Visible:   true,
		Roughness: 1,
	}
}

// Dispose releases the material. Calling it more than once is a no-op.
func (m *Material) Dispose() {
	if m == nil || m.disposed {
		return
	}
	m.disposed = true
	if m.OnDispose != nil {
		m.OnDispose()
	}
}

// Disposed reports whether Dispose was called.
func (m *Material) Disposed() bool {
	return m != nil && m.disposed
}

// Geometry is a mesh's vertex data reduced to what the passes need: its
// local-space bounds.
type Geometry struct {
	Min, Max mgl64.Vec3
	Vertices int

	disposed bool
}

// NewBoxGeometry returns geometry spanning min..max.
func NewBoxGeometry(min, max mgl64.Vec3) *Geometry {
	return &Geometry{Min: min, Max: max, Vertices: 8}
}

// Dispose releases the geometry.
func (g *Geometry) Dispose() {
	if g != nil {
		g.disposed = true
	}
}

// Disposed reports whether Dispose was called.
func (g *Geometry) Disposed() bool {
	return g != nil && g.disposed
}

// Node is one element of the scene tree. A node with Geometry is a mesh;
// its Materials are always a slice, with nil entries for missing materials.
type Node struct {
	Name string

	Position mgl64.Vec3
	Rotation mgl64.Quat
	Scale    mgl64.Vec3
	Visible  bool

	Geometry  *Geometry
	Materials []*Material

	Children []*Node
	parent   *Node
}

// NewNode returns a visible node with an identity transform.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Rotation: mgl64.QuatIdent(),
		Scale:    mgl64.Vec3{1, 1, 1},
		Visible:  true,
	}
}

// NewMesh returns a node carrying geometry and materials.
func NewMesh(name string, geom *Geometry, materials ...*Material) *Node {
	n := NewNode(name)
	n.Geometry = geom
	n.Materials = materials
	return n
}

// IsMesh reports whether the node carries geometry.
func (n *Node) IsMesh() bool {
	return n.Geometry != nil
}

// Parent returns the node's parent, or nil for a root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Add attaches children, detaching them from any previous parent.
func (n *Node) Add(children ...*Node) {
	for _, c := range children {
		if c == nil || c == n {
			continue
		}
		if c.parent != nil {
			c.parent.Remove(c)
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
}

// Remove detaches child. It reports whether child was found.
func (n *Node) Remove(child *Node) bool {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			c.parent = nil
			return true
		}
	}
	return false
}

// Traverse calls fn for n and every descendant, depth first.
func (n *Node) Traverse(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Traverse(fn)
	}
}

// LocalMatrix is translate * rotate * scale.
func (n *Node) LocalMatrix() mgl64.Mat4 {
	rot := n.Rotation
	if rot.Len() == 0 {
		rot = mgl64.QuatIdent()
	}
	return mgl64.Translate3D(n.Position.X(), n.Position.Y(), n.Position.Z()).
		Mul4(rot.Normalize().Mat4()).
		Mul4(mgl64.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z()))
}

// WorldMatrix composes the local matrices from the root down to n.
func (n *Node) WorldMatrix() mgl64.Mat4 {
	m := n.LocalMatrix()
	for p := n.parent; p != nil; p = p.parent {
		m = p.LocalMatrix().Mul4(m)
	}
	return m
}

// Graph is one loaded model.
type Graph struct {
	Root       *Node
	Background Color
}

// NewGraph returns an empty graph with a root group.
func NewGraph(background Color) *Graph {
	return &Graph{Root: NewNode("root"), Background: background}
}

// Meshes returns every mesh node in traversal order.
func (g *Graph) Meshes() []*Node {
	var out []*Node
	if g == nil {
		return out
	}
	g.Root.Traverse(func(n *Node) {
		if n.IsMesh() {
			out = append(out, n)
		}
	})
	return out
}

// Dispose releases every geometry and material in the graph.
func (g *Graph) Dispose() {
	if g == nil {
		return
	}
	g.Root.Traverse(func(n *Node) {
		n.Geometry.Dispose()
		for _, m := range n.Materials {
			m.Dispose()
		}
	})
}
