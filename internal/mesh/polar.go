package mesh

import "math"

// RadiansToCompass converts a direction in radians, possibly spanning several
// revolutions or negative, to degrees in [0, 360).
func RadiansToCompass(rad float64) float64 {
	deg := rad * 180 / math.Pi
	_, frac := math.Modf(deg / 360)
	theta := 360 * frac
	if theta < 0 {
		theta += 360
	}
	// frac just below zero can round back up to a full turn.
	if theta >= 360 {
		theta = 0
	}
	return theta
}
