package piece

import (
	"encoding/json"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/phrase"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/trajectory"
)

// SectionCategorization labels one section with the standard performance
// taxonomy. Map keys are the display names the editor presents.
type SectionCategorization struct {
	PreChizAlap      map[string]bool `json:"Pre-Chiz Alap"`
	Alap             map[string]bool `json:"Alap"`
	CompositionType  map[string]bool `json:"Composition Type"`
	CompSectionTempo map[string]bool `json:"Comp.-section/Tempo"`
	Tala             map[string]bool `json:"Tala"`
	Improvisation    map[string]bool `json:"Improvisation"`
	Other            map[string]bool `json:"Other"`
	TopLevel         string          `json:"Top Level"`
}

// InitSectionCategorization returns the blank taxonomy with every flag
// unset.
func InitSectionCategorization() *SectionCategorization {
	return &SectionCategorization{
		PreChizAlap: map[string]bool{"Pre-Chiz Alap": false},
		Alap:        map[string]bool{"Alap": false, "Jor": false, "Alap-Jhala": false},
		CompositionType: map[string]bool{
			"Dhrupad": false, "Bandish": false, "Thumri": false, "Ghazal": false,
			"Qawwali": false, "Dhun": false, "Tappa": false, "Bhajan": false,
			"Kirtan": false, "Kriti": false, "Masitkhani Gat": false,
			"Razakhani Gat": false, "Ferozkhani Gat": false,
		},
		CompSectionTempo: map[string]bool{
			"Ati Vilambit": false, "Vilambit": false, "Madhya": false,
			"Drut": false, "Ati Drut": false, "Jhala": false,
		},
		Tala:          map[string]bool{"Ektal": false, "Tintal": false, "Rupak": false},
		Improvisation: map[string]bool{"Improvisation": false},
		Other:         map[string]bool{"Other": false},
		TopLevel:      "None",
	}
}

func anySet(m map[string]bool) bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}

// CleanUp backfills categories older files lack and derives the top-level
// label from whichever detail category is set.
func (c *SectionCategorization) CleanUp() {
	if c.PreChizAlap == nil {
		c.PreChizAlap = map[string]bool{"Pre-Chiz Alap": false}
	}
	if c.Alap == nil {
		c.Alap = map[string]bool{"Alap": false, "Jor": false, "Alap-Jhala": false}
	}
	if c.CompositionType == nil {
		c.CompositionType = map[string]bool{}
	}
	if c.CompSectionTempo == nil {
		c.CompSectionTempo = map[string]bool{}
	}
	if c.Tala == nil {
		c.Tala = map[string]bool{}
	}
	if c.Improvisation == nil {
		c.Improvisation = map[string]bool{"Improvisation": false}
	}
	if c.Other == nil {
		c.Other = map[string]bool{"Other": false}
	}
	if c.TopLevel == "" || c.TopLevel == "None" {
		switch {
		case anySet(c.PreChizAlap):
			c.TopLevel = "Pre-Chiz Alap"
		case anySet(c.Alap):
			c.TopLevel = "Alap"
		case anySet(c.CompositionType):
			c.TopLevel = "Composition"
		case anySet(c.CompSectionTempo):
			c.TopLevel = "Composition"
		case anySet(c.Improvisation):
			c.TopLevel = "Improvisation"
		case anySet(c.Other):
			c.TopLevel = "Other"
		default:
			c.TopLevel = "None"
		}
	}
}

// UnmarshalJSON accepts the legacy "Composition-section/Tempo" key and
// normalizes the categorization on load.
func (c *SectionCategorization) UnmarshalJSON(data []byte) error {
	type alias SectionCategorization
	aux := struct {
		*alias
		LegacyCompSectionTempo map[string]bool `json:"Composition-section/Tempo"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return errors.WithStackTrace(err)
	}
	if c.CompSectionTempo == nil && aux.LegacyCompSectionTempo != nil {
		c.CompSectionTempo = aux.LegacyCompSectionTempo
	}
	c.CleanUp()
	return nil
}

// Section is a contiguous run of phrases sharing one categorization. It is
// derived from the piece's section-start indices, never stored.
type Section struct {
	Phrases        []*phrase.Phrase
	Categorization *SectionCategorization
}

// AllTrajectories flattens the section's primary-track trajectories.
func (s *Section) AllTrajectories() []*trajectory.Trajectory {
	var out []*trajectory.Trajectory
	for _, p := range s.Phrases {
		out = append(out, p.Trajectories()...)
	}
	return out
}

// AllPitches collects the section's sounded pitches, optionally collapsing
// consecutive repeats.
func (s *Section) AllPitches(repetition bool) []*pitch.Pitch {
	var out []*pitch.Pitch
	for _, p := range s.Phrases {
		out = append(out, p.AllPitches(true)...)
	}
	if repetition {
		return out
	}
	var dedup []*pitch.Pitch
	for _, pt := range out {
		if len(dedup) == 0 || !pt.SameAs(dedup[len(dedup)-1]) {
			dedup = append(dedup, pt)
		}
	}
	return dedup
}
