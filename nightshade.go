// Package nightshade draws a translucent tint over every frame a host
// renders. The tint's opacity follows the time of day.
//
// The plugin hooks two driver entry points. When the host creates its shader
// patcher the overlay programs and geometry are built once; after that every
// scene end draws one full-screen quad before the frame is submitted. If
// setup never happens or fails, both hooks only pass calls through.
package nightshade

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/image/math/f32"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/hook"
	"github.com/k2io/nightshade/internal/gpumem"
	"github.com/k2io/nightshade/internal/shaders"
)

// hookCount is the number of entry points the plugin intercepts.
const hookCount = 2

var (
	// ErrStarted means Start was called on a running plugin.
	ErrStarted = errors.New("nightshade: already started")
	// ErrConfig means the configuration cannot be used.
	ErrConfig = errors.New("nightshade: invalid config")
)

// State is the overlay's lifecycle state.
type State uint8

const (
	// StateUninitialized is the state before the host creates its shader
	// patcher, or after setup failed.
	StateUninitialized State = iota
	// StateReady means programs and geometry exist.
	StateReady
	// StateDrawing is held while the overlay draw is being issued.
	StateDrawing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDrawing:
		return "drawing"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Plugin is one loaded overlay.
type Plugin struct {
	cfg      Config
	alloc    *gpumem.Allocator
	registry *Registry
	store    *Store

	hooks       *hook.Set
	patcherHook hook.Hook
	sceneHook   hook.Hook

	state State
	// setup runs on the first patcher creation only
	setupDone bool
}

// New returns a stopped plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Kernel == nil || cfg.Mapper == nil {
		return nil, fmt.Errorf("%w: no GPU memory provider", ErrConfig)
	}
	if cfg.ScreenWidth <= 0 || cfg.ScreenHeight <= 0 {
		return nil, fmt.Errorf("%w: screen %dx%d", ErrConfig, cfg.ScreenWidth, cfg.ScreenHeight)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	alloc := gpumem.New(cfg.Kernel, cfg.Mapper)
	return &Plugin{
		cfg:   cfg,
		alloc: alloc,
		store: NewStore(alloc),
	}, nil
}

// Start sets the overlay color and hooks the patcher creation and scene end
// entry points through h. Hooks that install stay installed even when the
// other fails; Stop releases them.
func (p *Plugin) Start(h hook.Hooker) error {
	if p.hooks != nil {
		return ErrStarted
	}
	vertex, fragment, err := shaders.Load()
	if err != nil {
		return err
	}
	p.registry = NewRegistry(vertex, fragment)
	p.store.SetColor(p.cfg.Red, p.cfg.Green, p.cfg.Blue)
	p.hooks = hook.NewSet(h, hookCount)

	var errs []error
	p.patcherHook, err = p.hooks.Install(gxm.NIDShaderPatcherCreate, gxm.ShaderPatcherCreateFunc(p.shaderPatcherCreate))
	if err != nil {
		errs = append(errs, fmt.Errorf("hook %s: %w", gxm.EntryPointNames[gxm.NIDShaderPatcherCreate], err))
	}
	p.sceneHook, err = p.hooks.Install(gxm.NIDEndScene, gxm.EndSceneFunc(p.endScene))
	if err != nil {
		errs = append(errs, fmt.Errorf("hook %s: %w", gxm.EntryPointNames[gxm.NIDEndScene], err))
	}
	if err := errors.Join(errs...); err != nil {
		Logger().Warn("nightshade: started with missing hooks", "installed", p.hooks.Len(), "err", err)
		return err
	}
	Logger().Info("nightshade: started", "width", p.cfg.ScreenWidth, "height", p.cfg.ScreenHeight)
	return nil
}

// Stop releases the hooks, newest first, then the shader programs and the
// GPU memory. The plugin can be started again afterwards.
func (p *Plugin) Stop() error {
	var errs []error
	if p.hooks != nil {
		errs = append(errs, p.hooks.ReleaseAll())
		p.hooks = nil
	}
	p.patcherHook, p.sceneHook = nil, nil
	if p.registry != nil {
		errs = append(errs, p.registry.Release())
	}
	errs = append(errs, p.store.Release(), p.alloc.FreeAll())
	p.state = StateUninitialized
	p.setupDone = false

	err := errors.Join(errs...)
	if err != nil {
		Logger().Warn("nightshade: stop incomplete", "err", err)
	} else {
		Logger().Info("nightshade: stopped")
	}
	return err
}

// State returns the lifecycle state.
func (p *Plugin) State() State { return p.state }

// Color returns the overlay color, alpha included.
func (p *Plugin) Color() f32.Vec4 { return p.store.Color }

// Store returns the geometry and uniform store.
func (p *Plugin) Store() *Store { return p.store }

// Registry returns the shader registry, nil before Start.
func (p *Plugin) Registry() *Registry { return p.registry }

// Hooks returns the installed hooks.
func (p *Plugin) Hooks() []hook.Record {
	if p.hooks == nil {
		return nil
	}
	return p.hooks.Records()
}

// Allocations returns the number of live GPU allocations.
func (p *Plugin) Allocations() int { return p.alloc.Live() }
