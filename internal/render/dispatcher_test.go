package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifc-inspector/inspector/internal/scene"
	"github.com/ifc-inspector/inspector/internal/testutil"
	"github.com/ifc-inspector/inspector/internal/viewer"
)

var vp = scene.Viewport{Width: 800, Height: 600, DevicePixelRatio: 3}

func TestRender_DirectRendererFirst(t *testing.T) {
	r := &testutil.FakeRenderer{}
	ctx := &testutil.RenderingContext{FakeContext: &testutil.FakeContext{R: r}}
	v := testutil.NewFakeViewer(ctx)
	g := testutil.CubeGraph(1)

	res := NewDispatcher(nil).Render(ctx, v, g, scene.NewCamera(60, 1, 0.01, 100), vp)

	assert.True(t, res.OK)
	assert.Equal(t, PathRenderer, res.Path)
	assert.Empty(t, res.Failures)
	assert.Equal(t, [][2]int{{800, 600}}, r.Sizes)
	assert.Equal(t, []float64{2}, r.Ratios, "pixel ratio is capped at 2")
	assert.Zero(t, ctx.RenderCalls)
	assert.Zero(t, v.RenderCalls)
}

func TestRender_FallbackOrder(t *testing.T) {
	tests := []struct {
		name      string
		renderer  *testutil.FakeRenderer
		ctxErr    error
		ctxRender bool
		viewerErr error
		wantOK    bool
		wantPath  Path
		failures  int
	}{
		{
			name:      "renderer error falls back to context",
			renderer:  &testutil.FakeRenderer{Err: errors.New("context lost")},
			ctxRender: true,
			wantOK:    true,
			wantPath:  PathContext,
			failures:  1,
		},
		{
			name:      "renderer panic falls back to context",
			renderer:  &testutil.FakeRenderer{Panic: "nil pointer"},
			ctxRender: true,
			wantOK:    true,
			wantPath:  PathContext,
			failures:  1,
		},
		{
			name:     "no renderer and no context render uses viewer",
			wantOK:   true,
			wantPath: PathViewer,
			failures: 2,
		},
		{
			name:      "context error falls back to viewer",
			renderer:  &testutil.FakeRenderer{Err: errors.New("gone")},
			ctxRender: true,
			ctxErr:    errors.New("not ready"),
			wantOK:    true,
			wantPath:  PathViewer,
			failures:  2,
		},
		{
			name:      "everything fails",
			renderer:  &testutil.FakeRenderer{Err: errors.New("gone")},
			ctxRender: true,
			ctxErr:    errors.New("not ready"),
			viewerErr: errors.New("disposed"),
			wantOK:    false,
			wantPath:  PathNone,
			failures:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := &testutil.FakeContext{R: tt.renderer}
			var ctx viewer.Context = base
			if tt.ctxRender {
				ctx = &testutil.RenderingContext{FakeContext: base, RenderErr: tt.ctxErr}
			}
			v := testutil.NewFakeViewer(ctx)
			v.RenderErr = tt.viewerErr

			var res Result
			require.NotPanics(t, func() {
				res = NewDispatcher(nil).Render(ctx, v, testutil.CubeGraph(1), scene.NewCamera(60, 1, 0.01, 100), vp)
			})

			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantPath, res.Path)
			assert.Len(t, res.Failures, tt.failures)
		})
	}
}

func TestRender_NilHost(t *testing.T) {
	res := NewDispatcher(nil).Render(nil, nil, testutil.CubeGraph(1), nil, vp)
	assert.False(t, res.OK)
	require.Len(t, res.Failures, 3)
	assert.ErrorIs(t, res.Failures[0], viewer.ErrNoRenderer)
}

func TestResize(t *testing.T) {
	r := &testutil.FakeRenderer{}
	d := NewDispatcher(nil)

	require.NoError(t, d.Resize(&testutil.FakeContext{R: r}, scene.Viewport{Width: 640, Height: 480}))
	assert.Equal(t, [][2]int{{640, 480}}, r.Sizes)
	assert.Equal(t, []float64{1}, r.Ratios)

	assert.ErrorIs(t, d.Resize(&testutil.FakeContext{}, vp), viewer.ErrNoRenderer)
}

func TestRender_HeadlessViewer(t *testing.T) {
	h := viewer.NewHeadless(viewer.HeadlessOptions{Viewport: vp, Background: scene.DefaultBackground})
	g := testutil.CubeGraph(2)
	cam := scene.NewFitter(nil).Fit(g, nil, vp)

	res := NewDispatcher(nil).Render(h.Context(), h, g, cam, vp)

	require.True(t, res.OK)
	assert.Equal(t, PathRenderer, res.Path)
	assert.Equal(t, 1, h.SoftwareRenderer().Stats().Drawn)
}
