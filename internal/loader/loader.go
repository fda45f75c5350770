// Package loader owns the model shown by a viewer: it swaps models, runs
// repair, fit and render in order, and keeps the view in sync with the
// container size.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/render"
	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

// DefaultResizeDebounce delays resizes scheduled with ScheduleResize.
const DefaultResizeDebounce = 50 * time.Millisecond

// ErrClosed is returned after Close.
var ErrClosed = errors.New("loader closed")

// Options configures a Loader.
type Options struct {
	Viewport       scene.Viewport
	Background     scene.Color
	Clock          clock.Clock
	ResizeDebounce time.Duration
	Logger         *zap.Logger

	// OnLoaded is called once per successful Load, outside the loader's lock.
	OnLoaded func(*viewer.Model)
}

// Result describes the last successful load.
type Result struct {
	Model  *viewer.Model
	Repair scene.RepairStats
	Fit    scene.FitResult
	Render render.Result
}

// Loader drives one viewer.
type Loader struct {
	viewer     viewer.Viewer
	repairer   *scene.Repairer
	fitter     *scene.Fitter
	dispatcher *render.Dispatcher
	clock      clock.Clock
	debounce   time.Duration
	onLoaded   func(*viewer.Model)
	logger     *zap.Logger

	mu          sync.Mutex
	viewport    scene.Viewport
	current     *viewer.Model
	markers     *scene.Node
	last        Result
	resizeTimer *clock.Timer
	resizeGen   uint64
	closed      bool
}

// New creates a Loader for v.
func New(v viewer.Viewer, opts Options) *Loader {
	logger := logging.OrNop(opts.Logger)
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	debounce := opts.ResizeDebounce
	if debounce <= 0 {
		debounce = DefaultResizeDebounce
	}
	return &Loader{
		viewer:     v,
		repairer:   scene.NewRepairer(opts.Background, logger),
		fitter:     scene.NewFitter(logger),
		dispatcher: render.NewDispatcher(logger),
		clock:      clk,
		debounce:   debounce,
		onLoaded:   opts.OnLoaded,
		logger:     logger.Named("loader"),
		viewport:   opts.Viewport,
	}
}

// Load replaces the current model with the one at ref. Previous models are
// unloaded first and unload failures are ignored. If loading fails nothing
// else runs and a load-failure error is returned; repair, fit and render
// problems are logged but do not fail the load.
func (l *Loader) Load(ctx context.Context, ref string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}

	log := l.logger.With(zap.String("ref", ref))
	l.unloadAllLocked()

	model, err := l.viewer.Load(ctx, ref)
	if err == nil && model == nil {
		err = errors.New("viewer returned no model")
	}
	if err != nil {
		l.mu.Unlock()
		log.Error("model load failed", zap.Error(err))
		return models.NewError(models.KindLoad, "LOAD_FAILED", "failed to load model: "+err.Error(), err)
	}
	l.current = model

	g := model.Graph
	if g == nil {
		if vctx := l.viewer.Context(); vctx != nil {
			g = vctx.Scene()
		}
	}
	res := Result{Model: model}
	if g != nil {
		res.Repair = l.repairer.Repair(g)
		res.Fit = l.fitLocked(g)
		res.Render = l.renderLocked(g)
	} else {
		log.Warn("model has no scene graph")
	}
	l.last = res
	onLoaded := l.onLoaded
	l.mu.Unlock()

	log.Info("model ready",
		zap.Int("model_id", model.ID),
		zap.Int("materials_replaced", res.Repair.Replaced),
		zap.Int("materials_coerced", res.Repair.Coerced),
		zap.Bool("flat", res.Fit.Flat),
		zap.Bool("rendered", res.Render.OK),
		zap.String("render_path", string(res.Render.Path)))

	if onLoaded != nil {
		onLoaded(model)
	}
	return nil
}

// fitLocked frames g and registers the camera with the host. A failure is
// logged and leaves the previous camera in place.
func (l *Loader) fitLocked(g *scene.Graph) (res scene.FitResult) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Warn("camera fit failed", zap.Any("panic", p))
		}
	}()

	vctx := l.viewer.Context()
	var existing *scene.Camera
	if vctx != nil {
		existing = vctx.Camera()
	}
	res = l.fitter.FitDetailed(g, existing, l.viewport)
	if vctx != nil {
		vctx.SetCamera(res.Camera)
	}
	return res
}

func (l *Loader) renderLocked(g *scene.Graph) render.Result {
	vctx := l.viewer.Context()
	var cam *scene.Camera
	if vctx != nil {
		cam = vctx.Camera()
	}
	res := l.dispatcher.Render(vctx, l.viewer, g, cam, l.viewport)
	if !res.OK {
		l.logger.Error("render failed on every path", zap.Errors("attempts", res.Failures))
	}
	return res
}

// unloadAllLocked unloads every model the viewer knows about.
func (l *Loader) unloadAllLocked() {
	l.markers = nil
	for _, id := range l.viewer.LoadedModels() {
		if err := unload(l.viewer, id); err != nil {
			l.logger.Warn("unload failed", zap.Int("model_id", id), zap.Error(err))
		}
	}
	l.current = nil
}

func unload(v viewer.Viewer, id int) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return v.Unload(id)
}

// Resize applies vp immediately and re-renders the current model.
func (l *Loader) Resize(vp scene.Viewport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resizeLocked(vp)
}

func (l *Loader) resizeLocked(vp scene.Viewport) {
	if l.closed {
		return
	}
	l.viewport = vp

	vctx := l.viewer.Context()
	if vctx != nil {
		if cam := vctx.Camera(); cam != nil && vp.Width > 0 {
			cam.Aspect = vp.Aspect()
		}
	}
	if l.current == nil {
		if err := l.dispatcher.Resize(vctx, vp); err != nil {
			l.logger.Debug("resize without renderer", zap.Error(err))
		}
		return
	}
	g := l.current.Graph
	if g == nil && vctx != nil {
		g = vctx.Scene()
	}
	l.renderLocked(g)
}

// ScheduleResize applies vp after the debounce delay. A newer call replaces
// a pending one.
func (l *Loader) ScheduleResize(vp scene.Viewport) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if l.resizeTimer != nil {
		l.resizeTimer.Stop()
	}
	l.resizeGen++
	gen := l.resizeGen
	l.resizeTimer = l.clock.AfterFunc(l.debounce, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen != l.resizeGen {
			return
		}
		l.resizeTimer = nil
		l.resizeLocked(vp)
	})
}

// Viewport returns the viewport in effect.
func (l *Loader) Viewport() scene.Viewport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport
}

// Current returns the loaded model, or nil.
func (l *Loader) Current() *viewer.Model {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// LastResult returns what the last successful load did.
func (l *Loader) LastResult() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Close cancels pending resizes, releases the current model and disposes
// the viewer.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	l.resizeGen++
	if l.resizeTimer != nil {
		l.resizeTimer.Stop()
		l.resizeTimer = nil
	}
	l.unloadAllLocked()
	if err := l.viewer.Dispose(); err != nil {
		l.logger.Warn("viewer dispose failed", zap.Error(err))
		return err
	}
	l.logger.Debug("loader closed")
	return nil
}
