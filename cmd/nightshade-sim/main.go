package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gg"

	"github.com/k2io/nightshade"
	"github.com/k2io/nightshade/gxm"
	"github.com/k2io/nightshade/gxm/gxmsim"
	"github.com/k2io/nightshade/hook"
)

// runHost plays a host application: it creates its shader patcher, then
// renders frames, each cleared to a gray scene before the scene ends.
func runHost(d *gxmsim.Driver, table *hook.Table, frames int) error {
	create := hook.Resolve[gxm.ShaderPatcherCreateFunc](table, gxm.NIDShaderPatcherCreate)
	if _, err := create(&gxm.ShaderPatcherParams{
		BufferMemSize:       64 * 1024,
		VertexUSSEMemSize:   64 * 1024,
		FragmentUSSEMemSize: 64 * 1024,
	}); err != nil {
		return fmt.Errorf("create shader patcher: %w", err)
	}

	ctx := d.NewContext()
	for i := 0; i < frames; i++ {
		ctx.Clear(0.2, 0.3, 0.4, 1)
		var done uint32
		end := hook.Resolve[gxm.EndSceneFunc](table, gxm.NIDEndScene)
		if err := end(ctx, nil, &gxm.Notification{Address: &done, Value: uint32(i + 1)}); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

func main() {
	var width = flag.Int("width", 960, "Width of the host framebuffer")
	var height = flag.Int("height", 544, "Height of the host framebuffer")
	var frames = flag.Int("frames", 3, "Number of frames to render")
	var hour = flag.Float64("hour", -1, "Hour of day to render at, 0-24 (system clock if negative)")
	var outputFile = flag.String("output", "frame.png", "PNG file the last frame is written to")
	var verbose = flag.Bool("v", false, "Enable debug logging")
	var help = flag.Bool("help", false, "Show help message")
	flag.Parse()

	if *help {
		fmt.Println("nightshade host simulator")
		flag.PrintDefaults()
		return
	}
	if *hour >= 24 {
		log.Fatalf("Hour must be below 24, got %v", *hour)
	}

	if *verbose {
		l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		nightshade.SetLogger(l)
		gg.SetLogger(l)
	}

	d := gxmsim.New(*width, *height)
	defer d.Close()
	table, err := hook.NewTable(d.Imports())
	if err != nil {
		log.Fatalf("Failed to build import table: %v", err)
	}

	cfg := nightshade.DefaultConfig()
	cfg.ScreenWidth, cfg.ScreenHeight = *width, *height
	cfg.Kernel, cfg.Mapper = d, d
	if *hour >= 0 {
		h := time.Duration(*hour * float64(time.Hour))
		y, m, day := time.Now().Date()
		at := time.Date(y, m, day, 0, 0, 0, 0, time.Local).Add(h)
		cfg.Now = func() time.Time { return at }
	}

	plugin, err := nightshade.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create plugin: %v", err)
	}
	if err := plugin.Start(table); err != nil {
		log.Fatalf("Failed to start plugin: %v", err)
	}

	if err := runHost(d, table, *frames); err != nil {
		plugin.Stop()
		log.Fatalf("Host failed: %v", err)
	}
	log.Printf("Rendered %d frames, overlay %s, color %v", d.Frames(), plugin.State(), plugin.Color())

	if err := d.SavePNG(*outputFile); err != nil {
		log.Fatalf("Failed to write %s: %v", *outputFile, err)
	}
	if err := plugin.Stop(); err != nil {
		log.Fatalf("Failed to stop plugin: %v", err)
	}
	log.Printf("Wrote %s", *outputFile)
}
