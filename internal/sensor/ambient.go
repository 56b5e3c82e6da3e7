// Package sensor samples the ambient-light sensor and runs the hysteresis state machine
// that mutes the lamps in the dark.
package sensor

// Sample domains
const (
	RawMax     = 1023
	AmbientMax = 255
)

// MapAmbient linearly maps a raw sample in [0, RawMax] to [0, AmbientMax].
// Out-of-range samples are clamped first.
func MapAmbient(raw int) int {
	switch {
	case raw < 0:
		raw = 0
	case raw > RawMax:
		raw = RawMax
	}
	return raw * AmbientMax / RawMax
}
