package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

// FakeRenderer records what it was asked to do. Panic, if set, is raised
// from Render; otherwise Err is returned.
type FakeRenderer struct {
	mu     sync.Mutex
	Err    error
	Panic  any
	Sizes  [][2]int
	Ratios []float64
	Calls  int
}

func (r *FakeRenderer) SetSize(width, height int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sizes = append(r.Sizes, [2]int{width, height})
}

func (r *FakeRenderer) SetPixelRatio(ratio float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ratios = append(r.Ratios, ratio)
}

func (r *FakeRenderer) Render(g *scene.Graph, cam *scene.Camera) error {
	r.mu.Lock()
	r.Calls++
	p, err := r.Panic, r.Err
	r.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

// RenderCalls returns how many times Render was called.
func (r *FakeRenderer) RenderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls
}

// FakeContext is a viewer.Context without a render call of its own.
type FakeContext struct {
	mu             sync.Mutex
	Graph          *scene.Graph
	R              *FakeRenderer
	Cam            *scene.Camera
	SetCameraCalls int
}

func (c *FakeContext) Scene() *scene.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Graph
}

// SetScene attaches g.
func (c *FakeContext) SetScene(g *scene.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Graph = g
}

func (c *FakeContext) Renderer() viewer.Renderer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.R == nil {
		return nil
	}
	return c.R
}

func (c *FakeContext) Camera() *scene.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Cam
}

func (c *FakeContext) SetCamera(cam *scene.Camera) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cam = cam
	c.SetCameraCalls++
}

// RenderingContext is a FakeContext that also implements
// viewer.ContextRenderer.
type RenderingContext struct {
	*FakeContext
	RenderErr   error
	RenderCalls int
}

func (c *RenderingContext) Render() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RenderCalls++
	return c.RenderErr
}

// FakeViewer is an in-memory viewer.Viewer and viewer.SceneRenderer. Build
// produces the graph for a reference; the default is a unit cube.
type FakeViewer struct {
	mu        sync.Mutex
	Ctx       viewer.Context
	Build     func(ref string) *scene.Graph
	LoadErr   error
	UnloadErr error
	RenderErr error

	Loads       []string
	Unloaded    []int
	RenderCalls int
	Disposed    bool

	models map[int]*viewer.Model
	nextID int
}

// NewFakeViewer creates a viewer around ctx.
func NewFakeViewer(ctx viewer.Context) *FakeViewer {
	return &FakeViewer{Ctx: ctx, models: make(map[int]*viewer.Model)}
}

func (v *FakeViewer) Context() viewer.Context {
	return v.Ctx
}

func (v *FakeViewer) Load(ctx context.Context, ref string) (*viewer.Model, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.Loads = append(v.Loads, ref)
	if v.LoadErr != nil {
		return nil, v.LoadErr
	}
	build := v.Build
	if build == nil {
		build = func(string) *scene.Graph { return CubeGraph(1) }
	}
	v.nextID++
	m := &viewer.Model{ID: v.nextID, Ref: ref, Graph: build(ref)}
	v.models[m.ID] = m
	if sc, ok := v.Ctx.(interface{ SetScene(*scene.Graph) }); ok {
		sc.SetScene(m.Graph)
	}
	return m, nil
}

func (v *FakeViewer) Unload(id int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.UnloadErr != nil {
		return v.UnloadErr
	}
	m, ok := v.models[id]
	if !ok {
		return fmt.Errorf("model %d not loaded", id)
	}
	delete(v.models, id)
	v.Unloaded = append(v.Unloaded, id)
	m.Graph.Dispose()
	return nil
}

func (v *FakeViewer) LoadedModels() []int {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]int, 0, len(v.models))
	for id := range v.models {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (v *FakeViewer) Dispose() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Disposed = true
	return nil
}

func (v *FakeViewer) Render(g *scene.Graph, cam *scene.Camera) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.RenderCalls++
	return v.RenderErr
}

// CubeGraph returns a scene with one opaque grey cube of the given size at
// the origin.
func CubeGraph(size float64) *scene.Graph {
	g := scene.NewGraph(scene.DefaultBackground)
	h := size / 2
	g.Root.Add(scene.NewMesh("cube",
		scene.NewBoxGeometry(mgl64.Vec3{-h, -h, -h}, mgl64.Vec3{h, h, h}),
		scene.NewMaterial(0x808080)))
	return g
}
