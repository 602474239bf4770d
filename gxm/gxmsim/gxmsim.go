// Package gxmsim is a software implementation of the gxm driver surface.
//
// A Driver owns the kernel memory blocks, the GPU mappings, the shader
// patchers and a framebuffer. Contexts execute draw calls on the CPU with
// gogpu/gg and log every command, so callers can check what was submitted
// and in which order.
package gxmsim

import (
	"errors"
	"image"

	"github.com/gogpu/gg"

	"github.com/k2io/nightshade/gxm"
)

var (
	// ErrInjected is returned by operations failed on purpose through the
	// Fail* switches.
	ErrInjected = errors.New("gxmsim: injected failure")
	// ErrNoProgram means a draw or uniform reservation ran without a bound
	// program.
	ErrNoProgram = errors.New("gxmsim: no program bound")
	// ErrInvalidProgram means a program binary was rejected.
	ErrInvalidProgram = errors.New("gxmsim: invalid program")
)

// EventKind is the type of a logged command.
type EventKind uint8

const (
	EventClear EventKind = iota
	EventDraw
	EventEndScene
)

func (k EventKind) String() string {
	switch k {
	case EventClear:
		return "clear"
	case EventDraw:
		return "draw"
	case EventEndScene:
		return "end-scene"
	}
	return "unknown"
}

// Event is one logged command.
type Event struct {
	Kind       EventKind
	Primitive  gxm.PrimitiveType
	IndexCount int
	// Color is the fragment color of a draw, or the clear color.
	Color [4]float32
	// Positions are the screen-space vertices of a draw, in index order.
	Positions [][2]float32
}

// Driver is a simulated GPU with its kernel memory services.
type Driver struct {
	// Fail switches make the matching operation return ErrInjected.
	FailAlloc         bool
	FailMap           bool
	FailCreatePatcher bool
	FailRegister      bool

	width, height int
	blocks        map[gxm.UID]*block
	mapped        map[uintptr]gxm.MemoryAttribFlags
	nextUID       gxm.UID
	patchers      []*ShaderPatcher
	events        []Event
	frames        int
	canvas        *gg.Context
}

// New returns a driver rendering into a width x height framebuffer.
func New(width, height int) *Driver {
	return &Driver{
		width:  width,
		height: height,
		blocks: make(map[gxm.UID]*block),
		mapped: make(map[uintptr]gxm.MemoryAttribFlags),
		canvas: gg.NewContext(width, height),
	}
}

// Size returns the framebuffer dimensions.
func (d *Driver) Size() (int, int) { return d.width, d.height }

// ShaderPatcherCreate implements gxm.ShaderPatcherCreateFunc.
func (d *Driver) ShaderPatcherCreate(params *gxm.ShaderPatcherParams) (gxm.ShaderPatcher, error) {
	if d.FailCreatePatcher {
		return nil, ErrInjected
	}
	if params == nil {
		return nil, gxm.ErrInvalidValue
	}
	p := &ShaderPatcher{
		driver:   d,
		programs: make(map[gxm.ShaderPatcherID]*gxm.Program),
		vertex:   make(map[*vertexProgram]struct{}),
		fragment: make(map[*fragmentProgram]struct{}),
	}
	d.patchers = append(d.patchers, p)
	return p, nil
}

// EndScene implements gxm.EndSceneFunc.
func (d *Driver) EndScene(ctx gxm.Context, vertexNotification, fragmentNotification *gxm.Notification) error {
	if ctx == nil {
		return gxm.ErrInvalidValue
	}
	d.events = append(d.events, Event{Kind: EventEndScene})
	d.frames++
	for _, n := range []*gxm.Notification{vertexNotification, fragmentNotification} {
		if n != nil && n.Address != nil {
			*n.Address = n.Value
		}
	}
	return nil
}

// Imports returns the driver's entry points keyed by NID, the way a host's
// import table lists them.
func (d *Driver) Imports() map[uint32]any {
	return map[uint32]any{
		gxm.NIDShaderPatcherCreate: gxm.ShaderPatcherCreateFunc(d.ShaderPatcherCreate),
		gxm.NIDEndScene:            gxm.EndSceneFunc(d.EndScene),
	}
}

// NewContext returns a rendering context drawing into the framebuffer.
func (d *Driver) NewContext() *Context {
	return &Context{driver: d, streams: make(map[int][]byte)}
}

// Events returns the command log.
func (d *Driver) Events() []Event { return d.events }

// ResetEvents clears the command log.
func (d *Driver) ResetEvents() { d.events = nil }

// Frames returns the number of completed scenes.
func (d *Driver) Frames() int { return d.frames }

// Patchers returns the shader patchers created so far.
func (d *Driver) Patchers() []*ShaderPatcher { return d.patchers }

// Image returns a copy of the framebuffer.
func (d *Driver) Image() image.Image { return d.canvas.Image() }

// SavePNG writes the framebuffer to path.
func (d *Driver) SavePNG(path string) error { return d.canvas.SavePNG(path) }

// Close releases the framebuffer.
func (d *Driver) Close() error { return d.canvas.Close() }
