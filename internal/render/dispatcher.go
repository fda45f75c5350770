// Package render draws a scene through whichever entry point the host
// offers, falling back through them in a fixed order.
package render

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ifc-inspector/inspector/internal/logging"
	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

// Path names a render entry point.
type Path string

const (
	PathNone     Path = ""
	PathRenderer Path = "renderer"
	PathContext  Path = "context"
	PathViewer   Path = "viewer"
)

// Result is the outcome of one dispatch. Failures holds one error per
// attempt that was tried and failed, in order.
type Result struct {
	OK       bool
	Path     Path
	Failures []error
}

// Dispatcher tries the low-level renderer, then the context's own render
// call, then the viewer's top-level render call.
type Dispatcher struct {
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logging.OrNop(logger).Named("render")}
}

// Render draws g with cam, stopping at the first entry point that succeeds.
// It never panics; failures are logged and reported in the Result.
func (d *Dispatcher) Render(vctx viewer.Context, v viewer.Viewer, g *scene.Graph, cam *scene.Camera, vp scene.Viewport) Result {
	var res Result

	attempts := []struct {
		path Path
		fn   func() error
	}{
		{PathRenderer, func() error { return d.renderDirect(vctx, g, cam, vp) }},
		{PathContext, func() error { return renderContext(vctx) }},
		{PathViewer, func() error { return renderViewer(v, g, cam) }},
	}

	for _, a := range attempts {
		err := try(a.fn)
		if err == nil {
			res.OK = true
			res.Path = a.path
			if len(res.Failures) > 0 {
				d.logger.Debug("rendered after fallback", zap.String("path", string(a.path)), zap.Int("failed", len(res.Failures)))
			}
			return res
		}
		res.Failures = append(res.Failures, fmt.Errorf("%s: %w", a.path, err))
		d.logger.Warn("render attempt failed", zap.String("path", string(a.path)), zap.Error(err))
	}
	return res
}

// Resize applies vp to the low-level renderer: its size and a device pixel
// ratio capped at 2.
func (d *Dispatcher) Resize(vctx viewer.Context, vp scene.Viewport) error {
	return try(func() error {
		r, err := rendererOf(vctx)
		if err != nil {
			return err
		}
		r.SetSize(vp.Width, vp.Height)
		r.SetPixelRatio(vp.PixelRatio())
		return nil
	})
}

func (d *Dispatcher) renderDirect(vctx viewer.Context, g *scene.Graph, cam *scene.Camera, vp scene.Viewport) error {
	r, err := rendererOf(vctx)
	if err != nil {
		return err
	}
	r.SetSize(vp.Width, vp.Height)
	r.SetPixelRatio(vp.PixelRatio())
	return r.Render(g, cam)
}

func rendererOf(vctx viewer.Context) (viewer.Renderer, error) {
	if vctx == nil {
		return nil, viewer.ErrNoRenderer
	}
	r := vctx.Renderer()
	if r == nil {
		return nil, viewer.ErrNoRenderer
	}
	return r, nil
}

func renderContext(vctx viewer.Context) error {
	cr, ok := vctx.(viewer.ContextRenderer)
	if !ok || vctx == nil {
		return fmt.Errorf("context has no render call")
	}
	return cr.Render()
}

func renderViewer(v viewer.Viewer, g *scene.Graph, cam *scene.Camera) error {
	sr, ok := v.(viewer.SceneRenderer)
	if !ok || v == nil {
		return fmt.Errorf("viewer has no render call")
	}
	return sr.Render(g, cam)
}

// try runs fn, turning a panic into an error.
func try(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
