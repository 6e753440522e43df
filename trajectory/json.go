package trajectory

import (
	"encoding/json"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/pitch"
)

// trajectoryJSON is the stripped canonical wire form. Derived fields (name,
// per-trajectory instrumentation, phrase-relative position) are omitted and
// re-derived on load.
type trajectoryJSON struct {
	ID            int                      `json:"id"`
	Pitches       []*pitch.Pitch           `json:"pitches"`
	DurTot        float64                  `json:"durTot"`
	DurArray      []float64                `json:"durArray,omitempty"`
	Slope         float64                  `json:"slope"`
	Articulations map[string]*Articulation `json:"articulations"`
	VibObj        VibObj                   `json:"vibObj"`
	FundID12      float64                  `json:"fundID12,omitempty"`
	GroupID       string                   `json:"groupId,omitempty"`
	Automation    *Automation              `json:"automation,omitempty"`
	UniqueID      string                   `json:"uniqueId"`
	Tags          []string                 `json:"tags"`
}

// rawTrajectory additionally accepts the legacy fields older files embed.
type rawTrajectory struct {
	ID            *int                       `json:"id"`
	Pitches       []json.RawMessage          `json:"pitches"`
	DurTot        *float64                   `json:"durTot"`
	DurArray      []float64                  `json:"durArray"`
	Slope         float64                    `json:"slope"`
	Articulations map[string]json.RawMessage `json:"articulations"`
	VibObj        *VibObj                    `json:"vibObj"`
	FundID12      float64                    `json:"fundID12"`
	GroupID       string                     `json:"groupId"`
	Automation    *Automation                `json:"automation"`
	UniqueID      string                     `json:"uniqueId"`
	Tags          []string                   `json:"tags"`

	// legacy-only fields, accepted and re-derived
	Name            string     `json:"name"`
	Instrumentation Instrument `json:"instrumentation"`
	Num             *int       `json:"num"`
	StartTime       *float64   `json:"startTime"`
}

// MarshalJSON emits the stripped canonical form.
func (t *Trajectory) MarshalJSON() ([]byte, error) {
	return json.Marshal(trajectoryJSON{
		ID:            t.ID,
		Pitches:       t.Pitches,
		DurTot:        t.DurTot,
		DurArray:      t.DurArray,
		Slope:         t.Slope,
		Articulations: t.Articulations,
		VibObj:        t.VibObj,
		FundID12:      t.FundID12,
		GroupID:       t.GroupID,
		Automation:    t.Automation,
		UniqueID:      t.UniqueID,
		Tags:          t.Tags,
	})
}

// FromJSON decodes either the canonical stripped form or a legacy form with
// embedded name/tags/instrumentation and per-pitch tuning. A non-nil ctx is
// threaded into every pitch and always wins over embedded legacy tuning.
func FromJSON(data []byte, ctx *pitch.Context) (*Trajectory, error) {
	var raw rawTrajectory
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}

	pitches := make([]*pitch.Pitch, 0, len(raw.Pitches))
	for _, pm := range raw.Pitches {
		p, err := pitch.FromJSON(pm, ctx)
		if err != nil {
			return nil, err
		}
		pitches = append(pitches, p)
	}

	// always a concrete map: decoded trajectories carry exactly the markers
	// the document holds, never the constructor defaults
	arts := map[string]*Articulation{}
	for k, am := range raw.Articulations {
		if len(am) == 0 || string(am) == "null" {
			continue
		}
		a, err := articulationFromJSON(am)
		if err != nil {
			return nil, errors.WithStackTrace(err)
		}
		arts[k] = a
	}
	id := 0
	if raw.ID != nil {
		id = *raw.ID
	}
	durTot := 1.0
	if raw.DurTot != nil {
		durTot = *raw.DurTot
	}
	return New(Options{
		ID:              id,
		Pitches:         pitches,
		DurTot:          durTot,
		DurArray:        raw.DurArray,
		Slope:           raw.Slope,
		Articulations:   arts,
		Instrumentation: raw.Instrumentation,
		VibObj:          raw.VibObj,
		FundID12:        raw.FundID12,
		Automation:      raw.Automation,
		GroupID:         raw.GroupID,
		UniqueID:        raw.UniqueID,
		Tags:            raw.Tags,
	})
}
