// Package settings persists the auto-mute threshold and hysteresis in NV storage,
// guarded by a magic validity marker.
package settings

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/towerd/internal/nvram"
)

// Persisted layout
const (
	Magic            uint16 = 0xCAFE
	MagicOffset      int64  = 0
	ThresholdOffset  int64  = MagicOffset + 2
	HysteresisOffset int64  = ThresholdOffset + 1
)

// Defaults written when the marker is missing
const (
	DefaultThreshold  uint8 = 100
	DefaultHysteresis uint8 = 5
)

// Values is a snapshot of the tunable settings.
type Values struct {
	Threshold  uint8 `json:"threshold"`
	Hysteresis uint8 `json:"hysteresis"`
}

// Defaults returns the factory settings.
func Defaults() Values {
	return Values{Threshold: DefaultThreshold, Hysteresis: DefaultHysteresis}
}

// Store holds the in-memory settings and writes every change through to the device.
type Store struct {
	dev    nvram.Device
	values Values
}

// NewStore creates a store over dev. Call Load before use.
func NewStore(dev nvram.Device) *Store {
	return &Store{
		dev:    dev,
		values: Defaults(),
	}
}

// Load reads the marker and the settings. If the marker does not match, the device is
// treated as never initialized: the marker and the defaults are written and become current.
// It returns true when defaults were written.
func (s *Store) Load() (bool, error) {
	var marker [2]byte
	if _, err := s.dev.ReadAt(marker[:], MagicOffset); err != nil {
		return false, fmt.Errorf("failed to read settings marker: %w", err)
	}

	if binary.LittleEndian.Uint16(marker[:]) != Magic {
		log.Info().
			Str("device", s.dev.Name()).
			Hex("marker", marker[:]).
			Msg("Settings marker invalid, writing defaults")
		return true, s.writeDefaults()
	}

	var raw [2]byte
	if _, err := s.dev.ReadAt(raw[:], ThresholdOffset); err != nil {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}
	s.values = Values{Threshold: raw[0], Hysteresis: raw[1]}

	log.Debug().
		Uint8("threshold", s.values.Threshold).
		Uint8("hysteresis", s.values.Hysteresis).
		Msg("Loaded settings")
	return false, nil
}

// writeDefaults stores the marker and the default values. The defaults become
// current even if a write fails.
func (s *Store) writeDefaults() error {
	s.values = Defaults()

	var marker [2]byte
	binary.LittleEndian.PutUint16(marker[:], Magic)
	if _, err := s.dev.WriteAt(marker[:], MagicOffset); err != nil {
		return fmt.Errorf("failed to write settings marker: %w", err)
	}

	if err := s.PersistThreshold(s.values.Threshold); err != nil {
		return err
	}
	return s.PersistHysteresis(s.values.Hysteresis)
}

// Current returns a copy of the in-memory settings.
func (s *Store) Current() Values {
	return s.values
}

// PersistThreshold updates the threshold and writes it through immediately.
// The in-memory value changes even if the write fails.
func (s *Store) PersistThreshold(v uint8) error {
	s.values.Threshold = v
	if _, err := s.dev.WriteAt([]byte{v}, ThresholdOffset); err != nil {
		return fmt.Errorf("failed to persist threshold: %w", err)
	}
	return nil
}

// PersistHysteresis updates the hysteresis and writes it through immediately.
// The in-memory value changes even if the write fails.
func (s *Store) PersistHysteresis(v uint8) error {
	s.values.Hysteresis = v
	if _, err := s.dev.WriteAt([]byte{v}, HysteresisOffset); err != nil {
		return fmt.Errorf("failed to persist hysteresis: %w", err)
	}
	return nil
}

// Peek reads the persisted settings without initializing the device.
// valid is false when the marker does not match.
func Peek(dev nvram.Device) (values Values, valid bool, err error) {
	var raw [4]byte
	if _, err := dev.ReadAt(raw[:], MagicOffset); err != nil {
		return Values{}, false, fmt.Errorf("failed to read settings: %w", err)
	}
	values = Values{Threshold: raw[ThresholdOffset], Hysteresis: raw[HysteresisOffset]}
	return values, binary.LittleEndian.Uint16(raw[:2]) == Magic, nil
}

// Invalidate clears the marker so the next Load writes defaults.
func (s *Store) Invalidate() error {
	if _, err := s.dev.WriteAt([]byte{nvram.Erased, nvram.Erased}, MagicOffset); err != nil {
		return fmt.Errorf("failed to clear settings marker: %w", err)
	}
	return nil
}

// Clamp truncates v toward zero and limits it to [0, 255].
func Clamp(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	default:
		return uint8(v)
	}
}
