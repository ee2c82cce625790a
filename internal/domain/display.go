package domain

// DisplayState is what the status readout shows.
type DisplayState string

const (
	DisplayPeak      DisplayState = "peak"
	DisplayVoice     DisplayState = "voice"
	DisplayListening DisplayState = "listening"
	DisplayStopped   DisplayState = "stopped"
)

// Priority orders display states; higher wins.
func (s DisplayState) Priority() int {
	switch s {
	case DisplayPeak:
		return 3
	case DisplayVoice:
		return 2
	case DisplayListening:
		return 1
	default:
		return 0
	}
}

// Display is one rendered frame of the presentation surface.
type Display struct {
	Generation  Generation   `json:"generation"`
	State       DisplayState `json:"state"`
	Label       string       `json:"label"`
	Spectrum    []float64    `json:"spectrum"`
	Frequencies []float64    `json:"frequencies"`
	Scale       float64      `json:"scale"`
	RMS         float64      `json:"rms"`
	ZCR         int          `json:"zcr"`
	Stats       string       `json:"stats"`
}
