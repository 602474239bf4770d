package nightshade

import (
	"time"

	"github.com/k2io/nightshade/gxm"
)

// Config holds the plugin settings.
type Config struct {
	// ScreenWidth and ScreenHeight are the size of the host's framebuffer,
	// which the overlay covers.
	ScreenWidth  int
	ScreenHeight int

	// Red, Green and Blue are the overlay color. Only the alpha follows the
	// clock.
	Red, Green, Blue float32

	// Now reads the local time of day.
	Now func() time.Time

	// Kernel and Mapper provide GPU memory.
	Kernel gxm.Kernel
	Mapper gxm.MemoryMapper
}

// DefaultConfig returns the settings of a 960x544 host with an orange
// overlay and the system clock. Kernel and Mapper must still be set.
func DefaultConfig() Config {
	return Config{
		ScreenWidth:  960,
		ScreenHeight: 544,
		Red:          1.0,
		Green:        0.5,
		Blue:         0.0,
		Now:          time.Now,
	}
}
