package viewer

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/scene"
)

// ModelSource reads a model file into a scene graph.
type ModelSource interface {
	Load(ctx context.Context, path string) (*scene.Graph, error)
}

// HeadlessOptions configures a Headless viewer.
type HeadlessOptions struct {
	Viewport   scene.Viewport
	Background scene.Color
	// AssetDir is searched for relative model references that do not exist
	// as given.
	AssetDir string
	// Source defaults to a GLTFLoader.
	Source ModelSource
	Logger *zap.Logger
}

// Headless is a Viewer without a display. It implements SceneRenderer, and
// its Context implements ContextRenderer.
type Headless struct {
	source   ModelSource
	assetDir string
	renderer *SoftwareRenderer
	ctx      *headlessContext
	logger   *zap.Logger

	mu       sync.Mutex
	models   map[int]*Model
	nextID   int
	disposed bool
}

var (
	_ Viewer          = (*Headless)(nil)
	_ SceneRenderer   = (*Headless)(nil)
	_ ContextRenderer = (*headlessContext)(nil)
)

// NewHeadless creates a headless viewer sized to opts.Viewport.
func NewHeadless(opts HeadlessOptions) *Headless {
	logger := logging.OrNop(opts.Logger).Named("viewer")
	source := opts.Source
	if source == nil {
		source = NewGLTFLoader(opts.Background, logger)
	}
	if opts.AssetDir != "" {
		if info, err := os.Stat(opts.AssetDir); err != nil || !info.IsDir() {
			logger.Warn("asset directory not found", zap.String("dir", opts.AssetDir))
		}
	}

	r := NewSoftwareRenderer(opts.Background)
	r.SetSize(opts.Viewport.Width, opts.Viewport.Height)
	r.SetPixelRatio(opts.Viewport.PixelRatio())

	return &Headless{
		source:   source,
		assetDir: opts.AssetDir,
		renderer: r,
		ctx:      &headlessContext{renderer: r},
		logger:   logger,
		models:   make(map[int]*Model),
	}
}

// Context returns the rendering context.
func (h *Headless) Context() Context {
	return h.ctx
}

// SoftwareRenderer returns the concrete renderer, for frame inspection.
func (h *Headless) SoftwareRenderer() *SoftwareRenderer {
	return h.renderer
}

// Load reads ref and attaches it as the current scene.
func (h *Headless) Load(ctx context.Context, ref string) (*Model, error) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil, ErrDisposed
	}
	h.mu.Unlock()

	path := h.resolve(ref)
	start := time.Now()
	g, err := h.source.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		g.Dispose()
		return nil, ErrDisposed
	}
	h.nextID++
	m := &Model{ID: h.nextID, Ref: ref, Graph: g}
	h.models[m.ID] = m
	h.ctx.setScene(g)

	h.logger.Info("model loaded",
		zap.Int("model_id", m.ID),
		zap.String("path", path),
		zap.Int("meshes", len(g.Meshes())),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

// Unload detaches and disposes a model.
func (h *Headless) Unload(id int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.models[id]
	if !ok {
		return fmt.Errorf("model %d not loaded", id)
	}
	delete(h.models, id)
	if h.ctx.Scene() == m.Graph {
		h.ctx.setScene(nil)
	}
	m.Graph.Dispose()
	h.logger.Debug("model unloaded", zap.Int("model_id", id))
	return nil
}

// LoadedModels returns the ids of loaded models in load order.
func (h *Headless) LoadedModels() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]int, 0, len(h.models))
	for id := range h.models {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Render draws an explicit scene and camera at the current size.
func (h *Headless) Render(g *scene.Graph, cam *scene.Camera) error {
	return h.renderer.Render(g, cam)
}

// Snapshot writes the last rendered frame as PNG.
func (h *Headless) Snapshot(w io.Writer) error {
	frame := h.renderer.Frame()
	if frame == nil {
		return ErrNothingRendered
	}
	return png.Encode(w, frame)
}

// SnapshotFileName is the name a snapshot taken at t is saved under.
func SnapshotFileName(t time.Time) string {
	return fmt.Sprintf("snapshot-%d.png", t.UnixMilli())
}

// SaveSnapshot writes the last frame into dir and returns the file path.
func (h *Headless) SaveSnapshot(dir string, now time.Time) (string, error) {
	if h.renderer.Frame() == nil {
		return "", ErrNothingRendered
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	path := filepath.Join(dir, SnapshotFileName(now))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := h.Snapshot(f); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Dispose releases every model. The viewer cannot be used afterwards.
func (h *Headless) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil
	}
	h.disposed = true
	var errs []error
	for id, m := range h.models {
		if m.Graph == nil {
			errs = append(errs, fmt.Errorf("model %d has no scene", id))
			continue
		}
		m.Graph.Dispose()
	}
	h.models = map[int]*Model{}
	h.ctx.setScene(nil)
	h.ctx.SetCamera(nil)
	h.logger.Debug("viewer disposed")
	return errors.Join(errs...)
}

func (h *Headless) resolve(ref string) string {
	ref = strings.TrimPrefix(ref, "file://")
	if h.assetDir == "" || filepath.IsAbs(ref) {
		return ref
	}
	if _, err := os.Stat(ref); err == nil {
		return ref
	}
	return filepath.Join(h.assetDir, ref)
}

// headlessContext is the Context of a Headless viewer.
type headlessContext struct {
	renderer *SoftwareRenderer

	mu     sync.Mutex
	scene  *scene.Graph
	camera *scene.Camera
}

func (c *headlessContext) Scene() *scene.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scene
}

func (c *headlessContext) setScene(g *scene.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scene = g
}

func (c *headlessContext) Renderer() Renderer {
	return c.renderer
}

func (c *headlessContext) Camera() *scene.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

func (c *headlessContext) SetCamera(cam *scene.Camera) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.camera = cam
}

// Render draws the attached scene with the registered camera.
func (c *headlessContext) Render() error {
	c.mu.Lock()
	g, cam := c.scene, c.camera
	c.mu.Unlock()
	return c.renderer.Render(g, cam)
}
