// Package viewer is the narrow facade the loader and render dispatcher use to
// reach a rendering host, plus a headless implementation of it that loads
// glTF models and rasterises them in software.
package viewer

import (
	"context"
	"errors"

	"github.com/ifc-inspector/inspector/internal/scene"
)

var (
	// ErrNoRenderer is returned when the host has no low-level renderer.
	ErrNoRenderer = errors.New("no renderer available")
	// ErrNothingRendered is returned by Snapshot before the first frame.
	ErrNothingRendered = errors.New("nothing has been rendered yet")
	// ErrUnsupportedFormat is returned for model files the loader cannot read.
	ErrUnsupportedFormat = errors.New("unsupported model format")
	// ErrDisposed is returned by a viewer after Dispose.
	ErrDisposed = errors.New("viewer disposed")
)

// Renderer is a low-level renderer that draws an explicit scene and camera.
type Renderer interface {
	SetSize(width, height int)
	SetPixelRatio(ratio float64)
	Render(g *scene.Graph, cam *scene.Camera) error
}

// Context is the host's rendering context: the attached scene, the
// renderer, and the camera interaction controls follow.
type Context interface {
	Scene() *scene.Graph
	Renderer() Renderer
	Camera() *scene.Camera
	SetCamera(cam *scene.Camera)
}

// ContextRenderer is implemented by contexts that can render their current
// state without arguments.
type ContextRenderer interface {
	Render() error
}

// SceneRenderer is implemented by viewers with a top-level render call.
type SceneRenderer interface {
	Render(g *scene.Graph, cam *scene.Camera) error
}

// Model is one loaded model.
type Model struct {
	ID    int
	Ref   string
	Graph *scene.Graph
}

// Viewer loads models into a Context.
type Viewer interface {
	Context() Context

	// Load reads the model at ref and attaches it as the current scene.
	Load(ctx context.Context, ref string) (*Model, error)
	// Unload detaches and releases a model.
	Unload(id int) error
	// LoadedModels lists the ids of models not yet unloaded.
	LoadedModels() []int
	// Dispose releases every model and the rendering context.
	Dispose() error
}
