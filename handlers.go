package nightshade

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/hook"
)

// shaderPatcherCreate replaces the patcher creation entry point. The host
// gets the original's result unchanged; the first successful creation also
// builds the overlay resources.
func (p *Plugin) shaderPatcherCreate(params *gxm.ShaderPatcherParams) (gxm.ShaderPatcher, error) {
	orig := hook.Continue[gxm.ShaderPatcherCreateFunc](p.patcherHook)
	if orig == nil {
		return nil, fmt.Errorf("%w: original %s", gxm.ErrNotFound, gxm.EntryPointNames[gxm.NIDShaderPatcherCreate])
	}
	sp, err := orig(params)
	if err != nil || sp == nil {
		return sp, err
	}
	if !p.setupDone {
		p.setupDone = true
		if err := p.setup(sp); err != nil {
			Logger().Warn("nightshade: setup failed, overlay disabled", "err", err)
		}
	}
	return sp, nil
}

// setup moves the plugin to StateReady. On failure everything acquired is
// released and the state stays StateUninitialized.
func (p *Plugin) setup(sp gxm.ShaderPatcher) error {
	if err := p.registry.OnPatcherReady(sp); err != nil {
		return err
	}
	if err := p.store.InitializeDefaults(p.cfg.ScreenWidth, p.cfg.ScreenHeight); err != nil {
		if rerr := p.registry.Release(); rerr != nil {
			Logger().Warn("nightshade: release programs", "err", rerr)
		}
		return err
	}
	p.state = StateReady
	Logger().Info("nightshade: overlay ready")
	return nil
}

// endScene replaces the scene end entry point. While ready it draws the
// overlay first; the original always runs with the caller's arguments and
// its result is returned as is.
func (p *Plugin) endScene(ctx gxm.Context, vertexNotification, fragmentNotification *gxm.Notification) error {
	orig := hook.Continue[gxm.EndSceneFunc](p.sceneHook)
	if orig == nil {
		return fmt.Errorf("%w: original %s", gxm.ErrNotFound, gxm.EntryPointNames[gxm.NIDEndScene])
	}
	if p.state == StateReady {
		if err := p.drawOverlay(ctx); err != nil {
			Logger().Warn("nightshade: overlay draw failed", "err", err)
		}
	}
	return orig(ctx, vertexNotification, fragmentNotification)
}

func (p *Plugin) drawOverlay(ctx gxm.Context) error {
	p.state = StateDrawing
	defer func() { p.state = StateReady }()

	hour := HourOf(p.cfg.Now())
	p.store.SetAlpha(AlphaFor(hour))
	pair := p.registry.Pair()

	ctx.SetVertexProgram(pair.Vertex)
	ctx.SetFragmentProgram(pair.Fragment)

	fragment, err := ctx.ReserveFragmentDefaultUniformBuffer()
	if err != nil {
		return fmt.Errorf("reserve fragment uniforms: %w", err)
	}
	if err := fragment.SetUniformDataF(pair.Color, 0, p.store.Color[:]); err != nil {
		return fmt.Errorf("set color: %w", err)
	}
	vertex, err := ctx.ReserveVertexDefaultUniformBuffer()
	if err != nil {
		return fmt.Errorf("reserve vertex uniforms: %w", err)
	}
	if err := vertex.SetUniformDataF(pair.Transform, 0, p.store.Transform[:]); err != nil {
		return fmt.Errorf("set transform: %w", err)
	}

	if err := ctx.SetVertexStream(0, p.store.Vertices()); err != nil {
		return fmt.Errorf("bind vertices: %w", err)
	}
	if err := ctx.Draw(gxm.PrimitiveTriangleFan, gputypes.IndexFormatUint16, p.store.Indices(), indexCount); err != nil {
		return err
	}
	Logger().Debug("nightshade: overlay drawn", "hour", hour, "alpha", p.store.Color[3])
	return nil
}
