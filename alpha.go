package nightshade

import "time"

// Overlay opacity per period of the day.
const (
	AlphaNight     float32 = 0.25 // 00:00 - 06:00
	AlphaMorning   float32 = 0.10 // 06:00 - 10:00
	AlphaMidday    float32 = 0.05 // 10:00 - 15:00
	AlphaAfternoon float32 = 0.15 // 15:00 - 19:00
	AlphaEvening   float32 = 0.20 // 19:00 - 24:00
)

// AlphaFor returns the overlay opacity for an hour of the day in [0, 24).
// Lower bounds are inclusive.
func AlphaFor(hour float64) float32 {
	switch {
	case hour < 6:
		return AlphaNight
	case hour < 10:
		return AlphaMorning
	case hour < 15:
		return AlphaMidday
	case hour < 19:
		return AlphaAfternoon
	default:
		return AlphaEvening
	}
}

// HourOf returns t's local time of day in hours, minutes included.
func HourOf(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}
