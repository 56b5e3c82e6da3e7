// Package lamp holds the indicator lamp intents, the sensor-driven mute flag and the
// output drivers that make them physical.
package lamp

// Levels is the physical on/off state of the three lamps.
type Levels struct {
	Green  bool
	Red    bool
	Yellow bool
}

// Update is a partial change of lamp intents. Nil fields are left unchanged.
type Update struct {
	Green  *bool
	Red    *bool
	Yellow *bool
}

// State holds the requested lamp intents and the derived mute flag.
type State struct {
	Green  bool
	Red    bool
	Yellow bool
	Mute   bool
}

// Apply overwrites the intents present in u.
func (s *State) Apply(u Update) {
	if u.Green != nil {
		s.Green = *u.Green
	}
	if u.Red != nil {
		s.Red = *u.Red
	}
	if u.Yellow != nil {
		s.Yellow = *u.Yellow
	}
}

// Effective returns the physical output: intent AND NOT mute.
func (s State) Effective() Levels {
	return Levels{
		Green:  s.Green && !s.Mute,
		Red:    s.Red && !s.Mute,
		Yellow: s.Yellow && !s.Mute,
	}
}

// Reset returns the state to all lamps off, unmuted.
func (s *State) Reset() {
	*s = State{}
}
