package nightshade

import (
	"errors"
	"math"
	"os"
	"runtime"
	"testing"
	"time"

	"golang.org/x/image/math/f32"

	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/gxm/gxmsim"
	"github.com/k2io/nightshade/hook"
	"github.com/k2io/nightshade/hook/patch"
	"github.com/k2io/nightshade/internal/gpumem"
	"github.com/k2io/nightshade/internal/shaders"
	"github.com/k2io/nightshade/internal/vmath"
)

const (
	testWidth  = 960
	testHeight = 544
)

// host is a simulated application with the plugin loaded.
type host struct {
	t      *testing.T
	driver *gxmsim.Driver
	table  *hook.Table
	plugin *Plugin
	clock  time.Time
}

func newHost(t *testing.T) *host {
	t.Helper()
	d := gxmsim.New(testWidth, testHeight)
	t.Cleanup(func() { d.Close() })
	tbl, err := hook.NewTable(d.Imports())
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	h := &host{t: t, driver: d, table: tbl}
	h.setHour(12, 0)

	cfg := DefaultConfig()
	cfg.Kernel = d
	cfg.Mapper = d
	cfg.Now = func() time.Time { return h.clock }
	h.plugin, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *host) start() {
	h.t.Helper()
	if err := h.plugin.Start(h.table); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
}

func (h *host) setHour(hour, minute int) {
	h.clock = time.Date(2026, 10, 16, hour, minute, 0, 0, time.Local)
}

func (h *host) createPatcher() (gxm.ShaderPatcher, error) {
	create := hook.Resolve[gxm.ShaderPatcherCreateFunc](h.table, gxm.NIDShaderPatcherCreate)
	return create(&gxm.ShaderPatcherParams{BufferMemSize: 64 * 1024})
}

func (h *host) endScene(ctx gxm.Context, vn, fn *gxm.Notification) error {
	end := hook.Resolve[gxm.EndSceneFunc](h.table, gxm.NIDEndScene)
	return end(ctx, vn, fn)
}

func (h *host) ready() {
	h.t.Helper()
	h.start()
	if _, err := h.createPatcher(); err != nil {
		h.t.Fatalf("create patcher: %v", err)
	}
	if h.plugin.State() != StateReady {
		h.t.Fatalf("state = %v, want ready", h.plugin.State())
	}
}

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-3 }

func TestGeometry(t *testing.T) {
	h := newHost(t)
	h.ready()

	s := h.plugin.Store()
	want := []f32.Vec3{
		{0, 0, 0.5},
		{0, testHeight, 0.5},
		{testWidth, testHeight, 0.5},
		{testWidth, 0, 0.5},
	}
	for i, w := range want {
		if got := s.Vertex(i); got != w {
			t.Errorf("vertex %d = %v, want %v", i, got, w)
		}
	}
	for i := 0; i < 4; i++ {
		if got := s.Index(i); got != uint16(i) {
			t.Errorf("index %d = %d, want %d", i, got, i)
		}
	}
	if h.plugin.Allocations() != 2 {
		t.Errorf("allocations = %d, want 2", h.plugin.Allocations())
	}
}

func TestTransformMapsCorners(t *testing.T) {
	h := newHost(t)
	h.ready()

	s := h.plugin.Store()
	for i := 0; i < 4; i++ {
		v := s.Vertex(i)
		got := vmath.ToScreen(vmath.Transform(s.Transform, vmath.Point(v)), testWidth, testHeight)
		if !near(got[0], v[0]) || !near(got[1], v[1]) {
			t.Errorf("corner %d maps to %v, want (%v, %v)", i, got, v[0], v[1])
		}
	}
}

func TestEndSceneDrawsOverlay(t *testing.T) {
	h := newHost(t)
	h.ready()
	h.setHour(8, 0)
	h.driver.ResetEvents()

	var vdone, fdone uint32
	vn := &gxm.Notification{Address: &vdone, Value: 1}
	fn := &gxm.Notification{Address: &fdone, Value: 2}
	if err := h.endScene(h.driver.NewContext(), vn, fn); err != nil {
		t.Fatalf("end scene: %v", err)
	}

	if a := h.plugin.Color()[3]; a != 0.10 {
		t.Errorf("alpha = %v, want 0.10", a)
	}
	ev := h.driver.Events()
	if len(ev) != 2 {
		t.Fatalf("got %d events, want draw then end-scene: %+v", len(ev), ev)
	}
	draw := ev[0]
	if draw.Kind != gxmsim.EventDraw || draw.Primitive != gxm.PrimitiveTriangleFan || draw.IndexCount != 4 {
		t.Errorf("first event = %v %v x%d, want a 4 index triangle fan draw", draw.Kind, draw.Primitive, draw.IndexCount)
	}
	if draw.Color != [4]float32{1, 0.5, 0, 0.10} {
		t.Errorf("draw color = %v", draw.Color)
	}
	corners := [][2]float32{{0, 0}, {0, testHeight}, {testWidth, testHeight}, {testWidth, 0}}
	for i, c := range corners {
		p := draw.Positions[i]
		if !near(p[0], c[0]) || !near(p[1], c[1]) {
			t.Errorf("screen vertex %d = %v, want %v", i, p, c)
		}
	}
	if ev[1].Kind != gxmsim.EventEndScene {
		t.Errorf("second event = %v, want end-scene", ev[1].Kind)
	}
	if vdone != 1 || fdone != 2 {
		t.Errorf("notifications = %d, %d; arguments were not forwarded", vdone, fdone)
	}
	if h.plugin.State() != StateReady {
		t.Errorf("state after frame = %v", h.plugin.State())
	}
}

func TestAlphaFollowsClock(t *testing.T) {
	h := newHost(t)
	h.ready()
	ctx := h.driver.NewContext()

	for _, tt := range []struct {
		hour int
		want float32
	}{
		{2, 0.25},
		{20, 0.20},
	} {
		h.setHour(tt.hour, 30)
		if err := h.endScene(ctx, nil, nil); err != nil {
			t.Fatalf("end scene at %d: %v", tt.hour, err)
		}
		c := h.plugin.Color()
		if c[3] != tt.want {
			t.Errorf("hour %d: alpha = %v, want %v", tt.hour, c[3], tt.want)
		}
		if c[0] != 1.0 || c[1] != 0.5 || c[2] != 0.0 {
			t.Errorf("hour %d: rgb = %v, want (1, 0.5, 0)", tt.hour, c[:3])
		}
	}
	if h.driver.Frames() != 2 {
		t.Errorf("frames = %d, want 2", h.driver.Frames())
	}
}

func TestUninitializedPassThrough(t *testing.T) {
	h := newHost(t)
	h.start()

	var done uint32
	err := h.endScene(h.driver.NewContext(), &gxm.Notification{Address: &done, Value: 9}, nil)
	if err != nil {
		t.Fatalf("end scene: %v", err)
	}
	ev := h.driver.Events()
	if len(ev) != 1 || ev[0].Kind != gxmsim.EventEndScene {
		t.Errorf("events = %+v, want only end-scene", ev)
	}
	if done != 9 {
		t.Errorf("notification = %d, want 9", done)
	}
	if h.plugin.State() != StateUninitialized {
		t.Errorf("state = %v", h.plugin.State())
	}
	// The original's errors come back unchanged.
	if err := h.endScene(nil, nil, nil); !errors.Is(err, gxm.ErrInvalidValue) {
		t.Errorf("err = %v, want the original's ErrInvalidValue", err)
	}
}

func TestPatcherCreateErrorPassesThrough(t *testing.T) {
	h := newHost(t)
	h.start()
	h.driver.FailCreatePatcher = true
	if _, err := h.createPatcher(); !errors.Is(err, gxmsim.ErrInjected) {
		t.Fatalf("err = %v, want ErrInjected", err)
	}
	if h.plugin.State() != StateUninitialized {
		t.Fatalf("state = %v after failed creation", h.plugin.State())
	}

	// A later successful creation still sets up.
	h.driver.FailCreatePatcher = false
	if _, err := h.createPatcher(); err != nil {
		t.Fatal(err)
	}
	if h.plugin.State() != StateReady {
		t.Errorf("state = %v, want ready", h.plugin.State())
	}
}

func TestSetupFailureDegrades(t *testing.T) {
	tests := []struct {
		name string
		fail func(d *gxmsim.Driver)
	}{
		{"alloc", func(d *gxmsim.Driver) { d.FailAlloc = true }},
		{"map", func(d *gxmsim.Driver) { d.FailMap = true }},
		{"register", func(d *gxmsim.Driver) { d.FailRegister = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			h.start()
			tt.fail(h.driver)

			sp, err := h.createPatcher()
			if err != nil || sp == nil {
				t.Fatalf("host patcher creation must succeed: %v", err)
			}
			if h.plugin.State() != StateUninitialized {
				t.Fatalf("state = %v, want uninitialized", h.plugin.State())
			}
			p := h.driver.Patchers()[0]
			if h.driver.Blocks() != 0 || h.driver.Mapped() != 0 || p.Registered() != 0 || p.Linked() != 0 {
				t.Errorf("leaked: blocks=%d mapped=%d registered=%d linked=%d",
					h.driver.Blocks(), h.driver.Mapped(), p.Registered(), p.Linked())
			}

			if err := h.endScene(h.driver.NewContext(), nil, nil); err != nil {
				t.Fatal(err)
			}
			if ev := h.driver.Events(); len(ev) != 1 || ev[0].Kind != gxmsim.EventEndScene {
				t.Errorf("events = %+v, want pass-through", ev)
			}

			// Setup is attempted once.
			h.driver.FailAlloc, h.driver.FailMap, h.driver.FailRegister = false, false, false
			if _, err := h.createPatcher(); err != nil {
				t.Fatal(err)
			}
			if h.plugin.State() != StateUninitialized {
				t.Errorf("setup retried on second patcher")
			}
		})
	}
}

func TestSymbolResolution(t *testing.T) {
	vertex, fragment, err := shaders.Load()
	if err != nil {
		t.Fatal(err)
	}
	broken := *fragment
	broken.Parameters = append([]gxm.ProgramParameter(nil), fragment.Parameters...)
	for i := range broken.Parameters {
		if broken.Parameters[i].Name == shaders.ColorUniform {
			broken.Parameters[i].Name = "tint"
		}
	}

	d := gxmsim.New(16, 16)
	defer d.Close()
	sp, err := d.ShaderPatcherCreate(&gxm.ShaderPatcherParams{})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(vertex, &broken)
	if err := r.OnPatcherReady(sp); !errors.Is(err, ErrSymbolResolution) {
		t.Fatalf("err = %v, want ErrSymbolResolution", err)
	}
	if r.Pair() != nil {
		t.Error("pair set after failure")
	}
	if n := d.Patchers()[0].Registered(); n != 0 {
		t.Errorf("%d programs left registered", n)
	}
}

func TestRegistryOnce(t *testing.T) {
	vertex, fragment, err := shaders.Load()
	if err != nil {
		t.Fatal(err)
	}
	d := gxmsim.New(16, 16)
	defer d.Close()
	sp, err := d.ShaderPatcherCreate(&gxm.ShaderPatcherParams{})
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(vertex, fragment)
	if err := r.OnPatcherReady(sp); err != nil {
		t.Fatal(err)
	}
	if r.Patcher() != sp {
		t.Error("patcher not captured")
	}
	pair := r.Pair()
	if pair.Position.Name != shaders.PositionAttribute || pair.Color.Name != shaders.ColorUniform || pair.Transform.Name != shaders.TransformUniform {
		t.Errorf("pair parameters = %s %s %s", pair.Position.Name, pair.Color.Name, pair.Transform.Name)
	}
	if err := r.OnPatcherReady(sp); err == nil {
		t.Error("second OnPatcherReady succeeded")
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
	if p := d.Patchers()[0]; p.Registered() != 0 || p.Linked() != 0 {
		t.Errorf("registered=%d linked=%d after Release", p.Registered(), p.Linked())
	}
}

func TestStopReleasesEverything(t *testing.T) {
	h := newHost(t)
	h.ready()
	if err := h.endScene(h.driver.NewContext(), nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := h.plugin.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	p := h.driver.Patchers()[0]
	if h.driver.Blocks() != 0 || h.driver.Mapped() != 0 || p.Registered() != 0 || p.Linked() != 0 {
		t.Errorf("leaked: blocks=%d mapped=%d registered=%d linked=%d",
			h.driver.Blocks(), h.driver.Mapped(), p.Registered(), p.Linked())
	}
	if h.table.Hooked(gxm.NIDShaderPatcherCreate) != 0 || h.table.Hooked(gxm.NIDEndScene) != 0 {
		t.Error("hooks left installed")
	}
	if h.plugin.State() != StateUninitialized {
		t.Errorf("state = %v", h.plugin.State())
	}
	if err := h.plugin.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	// Originals behave as if never hooked.
	h.driver.ResetEvents()
	if err := h.endScene(h.driver.NewContext(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if ev := h.driver.Events(); len(ev) != 1 || ev[0].Kind != gxmsim.EventEndScene {
		t.Errorf("events = %+v", ev)
	}

	// And the plugin loads again.
	h.start()
	if _, err := h.createPatcher(); err != nil {
		t.Fatal(err)
	}
	if h.plugin.State() != StateReady {
		t.Errorf("state after restart = %v", h.plugin.State())
	}
}

func TestStartInstallsTwoHooks(t *testing.T) {
	h := newHost(t)
	h.start()
	recs := h.plugin.Hooks()
	if len(recs) != 2 || recs[0].NID != gxm.NIDShaderPatcherCreate || recs[1].NID != gxm.NIDEndScene {
		t.Fatalf("hooks = %+v", recs)
	}
	if err := h.plugin.Start(h.table); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start err = %v, want ErrStarted", err)
	}
}

func TestStartMissingEntryPoint(t *testing.T) {
	d := gxmsim.New(testWidth, testHeight)
	defer d.Close()
	imports := d.Imports()
	delete(imports, gxm.NIDShaderPatcherCreate)
	tbl, err := hook.NewTable(imports)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Kernel, cfg.Mapper = d, d
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Start(tbl); !errors.Is(err, hook.ErrSymbolNotFound) {
		t.Fatalf("Start err = %v, want ErrSymbolNotFound", err)
	}
	if recs := p.Hooks(); len(recs) != 1 || recs[0].NID != gxm.NIDEndScene {
		t.Fatalf("hooks = %+v, want only the scene end", recs)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tbl.Hooked(gxm.NIDEndScene) != 0 {
		t.Error("scene end hook left installed")
	}
}

func TestNewRejectsConfig(t *testing.T) {
	d := gxmsim.New(1, 1)
	defer d.Close()
	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"no kernel", func(c *Config) { c.Kernel = nil }},
		{"no mapper", func(c *Config) { c.Mapper = nil }},
		{"zero width", func(c *Config) { c.ScreenWidth = 0 }},
		{"negative height", func(c *Config) { c.ScreenHeight = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Kernel, cfg.Mapper = d, d
			tt.edit(&cfg)
			if _, err := New(cfg); !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestStoreInitializeTwice(t *testing.T) {
	d := gxmsim.New(1, 1)
	defer d.Close()
	s := NewStore(gpumem.New(d, d))
	if err := s.InitializeDefaults(64, 32); err != nil {
		t.Fatal(err)
	}
	if err := s.InitializeDefaults(64, 32); err == nil {
		t.Error("second InitializeDefaults succeeded")
	}
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if d.Blocks() != 0 || s.Ready() {
		t.Errorf("blocks=%d ready=%v after Release", d.Blocks(), s.Ready())
	}
}

func TestStoreAccessorsBeforeInit(t *testing.T) {
	d := gxmsim.New(1, 1)
	defer d.Close()
	s := NewStore(gpumem.New(d, d))
	for i := -1; i <= vertexCount; i++ {
		if v := s.Vertex(i); v != (f32.Vec3{}) {
			t.Errorf("Vertex(%d) = %v before init", i, v)
		}
		if x := s.Index(i); x != 0 {
			t.Errorf("Index(%d) = %d before init", i, x)
		}
	}
	if err := s.InitializeDefaults(64, 32); err != nil {
		t.Fatal(err)
	}
	defer s.Release()
	if v := s.Vertex(vertexCount); v != (f32.Vec3{}) {
		t.Errorf("Vertex past the quad = %v", v)
	}
	if x := s.Index(-1); x != 0 {
		t.Errorf("Index(-1) = %d", x)
	}
	if v := s.Vertex(2); v != (f32.Vec3{64, 32, overlayDepth}) {
		t.Errorf("Vertex(2) = %v", v)
	}
}

// patchedDriver backs the two host functions the code patcher rewrites.
var patchedDriver *gxmsim.Driver

//go:noinline
func hostPatcherCreate(params *gxm.ShaderPatcherParams) (gxm.ShaderPatcher, error) {
	return patchedDriver.ShaderPatcherCreate(params)
}

//go:noinline
func hostEndScene(ctx gxm.Context, vn, fn *gxm.Notification) error {
	return patchedDriver.EndScene(ctx, vn, fn)
}

// TestPluginThroughCodePatcher hooks real functions of the test binary, the
// way the plugin sits on a host that calls its imports directly.
func TestPluginThroughCodePatcher(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("linux/amd64 only")
	}
	if os.Getenv("NIGHTSHADE_PATCH_TEST") == "" {
		t.Skip("set NIGHTSHADE_PATCH_TEST=1 to patch live code")
	}
	d := gxmsim.New(testWidth, testHeight)
	defer d.Close()
	patchedDriver = d
	defer func() { patchedDriver = nil }()

	p := patch.New()
	if err := p.Bind(gxm.NIDShaderPatcherCreate, gxm.ShaderPatcherCreateFunc(hostPatcherCreate)); err != nil {
		t.Fatalf("Bind create: %v", err)
	}
	if err := p.Bind(gxm.NIDEndScene, gxm.EndSceneFunc(hostEndScene)); err != nil {
		t.Fatalf("Bind end scene: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Kernel, cfg.Mapper = d, d
	plugin, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := plugin.Start(p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			plugin.Stop()
		}
	}()

	if _, err := hostPatcherCreate(&gxm.ShaderPatcherParams{BufferMemSize: 64 * 1024}); err != nil {
		t.Fatalf("create patcher: %v", err)
	}
	if plugin.State() != StateReady {
		t.Fatalf("state = %v, want ready", plugin.State())
	}

	d.ResetEvents()
	if err := hostEndScene(d.NewContext(), nil, nil); err != nil {
		t.Fatalf("end scene: %v", err)
	}
	ev := d.Events()
	if len(ev) != 2 || ev[0].Kind != gxmsim.EventDraw || ev[1].Kind != gxmsim.EventEndScene {
		t.Fatalf("hooked frame events = %+v, want draw then end-scene", ev)
	}

	stopped = true
	if err := plugin.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	d.ResetEvents()
	if err := hostEndScene(d.NewContext(), nil, nil); err != nil {
		t.Fatalf("end scene after Stop: %v", err)
	}
	if ev := d.Events(); len(ev) != 1 || ev[0].Kind != gxmsim.EventEndScene {
		t.Errorf("restored frame events = %+v, want end-scene only", ev)
	}
}
