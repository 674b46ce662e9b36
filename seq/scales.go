package seq

// Scale identifiers for harmonic transpose. ScaleOff means chromatic
// (plain semitone) transpose.
const (
	ScaleOff = iota
	ScaleMajor
	ScaleMinor
	ScaleHarmonicMinor
	ScaleMelodicMinor
	ScaleDorian
	ScalePhrygian
	ScaleLydian
	ScaleMixolydian
	ScaleLocrian
	ScaleWholeTone
	scaleCount
)

// ScaleCount is the number of defined scales, including ScaleOff.
const ScaleCount = scaleCount

// scaleDegrees marks, per scale, which of the 12 chromatic degrees (relative
// to the key) belong to the scale.
var scaleDegrees = [scaleCount][12]bool{
	ScaleOff:           {true, true, true, true, true, true, true, true, true, true, true, true},
	ScaleMajor:         {true, false, true, false, true, true, false, true, false, true, false, true},
	ScaleMinor:         {true, false, true, true, false, true, false, true, true, false, true, false},
	ScaleHarmonicMinor: {true, false, true, true, false, true, false, true, true, false, false, true},
	ScaleMelodicMinor:  {true, false, true, true, false, true, false, true, false, true, false, true},
	ScaleDorian:        {true, false, true, true, false, true, false, true, false, true, true, false},
	ScalePhrygian:      {true, true, false, true, false, true, false, true, true, false, true, false},
	ScaleLydian:        {true, false, true, false, true, false, true, true, false, true, false, true},
	ScaleMixolydian:    {true, false, true, false, true, true, false, true, false, true, true, false},
	ScaleLocrian:       {true, true, false, true, false, true, true, false, true, false, true, false},
	ScaleWholeTone:     {true, false, true, false, true, false, true, false, true, false, true, false},
}

// ScaleName returns a display name for a scale id.
func ScaleName(scale int) string {
	names := [scaleCount]string{
		"Off", "Major", "Minor", "Harmonic Minor", "Melodic Minor",
		"Dorian", "Phrygian", "Lydian", "Mixolydian", "Locrian", "Whole Tone",
	}
	if scale < 0 || scale >= scaleCount {
		return "Off"
	}
	return names[scale]
}

// HarmonicTranspose moves a note by the given number of scale steps within
// the scale rooted at key. A note outside the scale first snaps to the next
// scale tone in the direction of travel; zero steps returns the note
// unchanged even if it is off-scale.
func HarmonicTranspose(note byte, steps, scale, key int) byte {
	if scale <= ScaleOff || scale >= scaleCount || steps == 0 {
		return note
	}
	degrees := scaleDegrees[scale]
	n := int(note)
	dir := 1
	if steps < 0 {
		dir = -1
		steps = -steps
	}
	for i := 0; i < steps; i++ {
		n += dir
		for !degrees[mod12(n-key)] {
			n += dir
			if n < 0 || n > 127 {
				break
			}
		}
	}
	if n < 0 {
		n = 0
	}
	if n > 127 {
		n = 127
	}
	return byte(n)
}

func mod12(x int) int {
	r := x % 12
	if r < 0 {
		r += 12
	}
	return r
}
