package trajectory

import "encoding/json"

// Articulation marker names.
const (
	ArtPluck     = "pluck"
	ArtHammerOn  = "hammer-on"
	ArtHammerOff = "hammer-off"
	ArtSlide     = "slide"
	ArtDampen    = "dampen"
)

// Articulation is a playing-technique marker pinned to a normalized time
// fraction within a trajectory.
type Articulation struct {
	Name   string `json:"name"`
	Stroke string `json:"stroke,omitempty"`
}

// NewPluck returns the default sitar attack marker.
func NewPluck(stroke string) *Articulation {
	return &Articulation{Name: ArtPluck, Stroke: stroke}
}

func articulationFromJSON(data json.RawMessage) (*Articulation, error) {
	var a Articulation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
