package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// NominalDiagonal stands in for the diagonal of an empty or degenerate scene.
const NominalDiagonal = 10.0

// Box is an axis-aligned bounding box. The zero value is not valid, use
// EmptyBox.
type Box struct {
	Min, Max mgl64.Vec3
}

// EmptyBox returns a box containing nothing.
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: mgl64.Vec3{inf, inf, inf},
		Max: mgl64.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether no point was added.
func (b Box) IsEmpty() bool {
	return b.Max.X() < b.Min.X() || b.Max.Y() < b.Min.Y() || b.Max.Z() < b.Min.Z()
}

// ExpandByPoint grows the box to include p. Non-finite points are ignored.
func (b *Box) ExpandByPoint(p mgl64.Vec3) {
	for i := 0; i < 3; i++ {
		if math.IsNaN(p[i]) || math.IsInf(p[i], 0) {
			return
		}
	}
	for i := 0; i < 3; i++ {
		b.Min[i] = math.Min(b.Min[i], p[i])
		b.Max[i] = math.Max(b.Max[i], p[i])
	}
}

// Union grows the box to include o.
func (b *Box) Union(o Box) {
	if o.IsEmpty() {
		return
	}
	b.ExpandByPoint(o.Min)
	b.ExpandByPoint(o.Max)
}

// Center returns the midpoint, or the origin for an empty box.
func (b Box) Center() mgl64.Vec3 {
	if b.IsEmpty() {
		return mgl64.Vec3{}
	}
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the extent along each axis, or zero for an empty box.
func (b Box) Size() mgl64.Vec3 {
	if b.IsEmpty() {
		return mgl64.Vec3{}
	}
	return b.Max.Sub(b.Min)
}

// Corners returns the eight corners.
func (b Box) Corners() [8]mgl64.Vec3 {
	var out [8]mgl64.Vec3
	for i := range out {
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				out[i][axis] = b.Max[axis]
			} else {
				out[i][axis] = b.Min[axis]
			}
		}
	}
	return out
}

// Transform returns the box enclosing b after m is applied.
func (b Box) Transform(m mgl64.Mat4) Box {
	out := EmptyBox()
	if b.IsEmpty() {
		return out
	}
	for _, c := range b.Corners() {
		out.ExpandByPoint(mgl64.TransformCoordinate(c, m))
	}
	return out
}

// WorldBox returns the world-space box of n's geometry, ignoring children.
func (n *Node) WorldBox() Box {
	if n.Geometry == nil {
		return EmptyBox()
	}
	local := EmptyBox()
	local.ExpandByPoint(n.Geometry.Min)
	local.ExpandByPoint(n.Geometry.Max)
	return local.Transform(n.WorldMatrix())
}

// ComputeBox returns the world-space box of every mesh under root.
func ComputeBox(root *Node) Box {
	box := EmptyBox()
	root.Traverse(func(n *Node) {
		box.Union(n.WorldBox())
	})
	return box
}

// BoundingVolume summarises a scene's extent. It is recomputed on every use.
type BoundingVolume struct {
	Center   mgl64.Vec3
	Size     mgl64.Vec3
	Diagonal float64
	Empty    bool
}

// Measure computes the bounding volume of g. Diagonal is always finite and
// positive: empty or zero-sized scenes get NominalDiagonal.
func Measure(g *Graph) BoundingVolume {
	if g == nil || g.Root == nil {
		return BoundingVolume{Diagonal: NominalDiagonal, Empty: true}
	}
	box := ComputeBox(g.Root)
	vol := BoundingVolume{
		Center: box.Center(),
		Size:   box.Size(),
		Empty:  box.IsEmpty(),
	}
	vol.Diagonal = vol.Size.Len()
	if vol.Empty || !(vol.Diagonal > 0) || math.IsInf(vol.Diagonal, 0) {
		vol.Diagonal = NominalDiagonal
	}
	return vol
}
