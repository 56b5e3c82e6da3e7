package sensor

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// pinSource reads an ADC-capable periph pin and rescales its native range to [0, RawMax].
type pinSource struct {
	pin      analog.PinADC
	min, max int32
}

// NewPinSource wraps an ADC pin.
func NewPinSource(pin analog.PinADC) Source {
	lo, hi := pin.Range()
	return &pinSource{pin: pin, min: lo.Raw, max: hi.Raw}
}

// NewPeriphSource looks up an ADC-capable pin by name in the periph registry.
// The periph host must already be initialized.
func NewPeriphSource(name string) (Source, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("adc pin %q not found", name)
	}
	adc, ok := p.(analog.PinADC)
	if !ok {
		return nil, fmt.Errorf("pin %q is not ADC capable", name)
	}
	return NewPinSource(adc), nil
}

// Sample reads the pin.
func (s *pinSource) Sample() (int, error) {
	sample, err := s.pin.Read()
	if err != nil {
		return 0, err
	}
	span := int64(s.max) - int64(s.min)
	if span <= 0 {
		return int(sample.Raw), nil
	}
	return int((int64(sample.Raw) - int64(s.min)) * RawMax / span), nil
}

// Static is a settable Source for hosts without a sensor and for tests.
type Static struct {
	raw atomic.Int64
}

// NewStatic creates a static source reporting raw.
func NewStatic(raw int) *Static {
	s := &Static{}
	s.Set(raw)
	return s
}

// Set changes the reported raw value.
func (s *Static) Set(raw int) {
	s.raw.Store(int64(raw))
}

// Sample returns the configured raw value.
func (s *Static) Sample() (int, error) {
	return int(s.raw.Load()), nil
}
