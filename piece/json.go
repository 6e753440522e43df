package piece

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gruntwork-io/go-commons/errors"

	"github.com/robmorgan/raag/meter"
	"github.com/robmorgan/raag/phrase"
	"github.com/robmorgan/raag/raga"
	"github.com/robmorgan/raag/trajectory"
)

const dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

type pieceJSON struct {
	Title             string                     `json:"title"`
	DateCreated       string                     `json:"dateCreated"`
	DateModified      string                     `json:"dateModified"`
	Location          string                     `json:"location"`
	ID                string                     `json:"_id,omitempty"`
	AudioID           string                     `json:"audioID,omitempty"`
	Soloist           string                     `json:"soloist,omitempty"`
	SoloInstrument    string                     `json:"soloInstrument,omitempty"`
	Raga              *raga.Raga                 `json:"raga"`
	Instrumentation   []trajectory.Instrument    `json:"instrumentation"`
	PhraseGrid        [][]*phrase.Phrase         `json:"phraseGrid"`
	DurTot            float64                    `json:"durTot"`
	DurArrayGrid      [][]float64                `json:"durArrayGrid"`
	SectionStartsGrid [][]int                    `json:"sectionStartsGrid"`
	SectionCatGrid    [][]*SectionCategorization `json:"sectionCatGrid"`
	Meters            []*meter.Meter             `json:"meters"`
}

// MarshalJSON emits the stripped canonical document: derived fields live in
// the grids, tuning lives only in the raga, and dates are ISO 8601.
func (p *Piece) MarshalJSON() ([]byte, error) {
	return json.Marshal(pieceJSON{
		Title:             p.Title,
		DateCreated:       p.DateCreated.Format(dateLayout),
		DateModified:      p.DateModified.Format(dateLayout),
		Location:          p.Location,
		ID:                p.UniqueID,
		AudioID:           p.AudioID,
		Soloist:           p.Soloist,
		SoloInstrument:    p.SoloInstrument,
		Raga:              p.Raga,
		Instrumentation:   p.Instrumentation,
		PhraseGrid:        p.PhraseGrid,
		DurTot:            p.DurTot,
		DurArrayGrid:      p.DurArrayGrid,
		SectionStartsGrid: p.SectionStartsGrid,
		SectionCatGrid:    p.SectionCatGrid,
		Meters:            p.Meters,
	})
}

type rawPiece struct {
	Title             string                     `json:"title"`
	DateCreated       json.RawMessage            `json:"dateCreated"`
	DateModified      json.RawMessage            `json:"dateModified"`
	Location          string                     `json:"location"`
	ID                string                     `json:"_id"`
	AudioID           string                     `json:"audioID"`
	Soloist           string                     `json:"soloist"`
	SoloInstrument    string                     `json:"soloInstrument"`
	Raga              json.RawMessage            `json:"raga"`
	Instrumentation   []trajectory.Instrument    `json:"instrumentation"`
	PhraseGrid        [][]json.RawMessage        `json:"phraseGrid"`
	Phrases           []json.RawMessage          `json:"phrases"`
	DurTot            *float64                   `json:"durTot"`
	DurArrayGrid      [][]float64                `json:"durArrayGrid"`
	DurArray          []float64                  `json:"durArray"`
	SectionStartsGrid [][]int                    `json:"sectionStartsGrid"`
	SectionStarts     []int                      `json:"sectionStarts"`
	SectionCatGrid    [][]*SectionCategorization `json:"sectionCatGrid"`
	SectionCat        []*SectionCategorization   `json:"sectionCategorization"`
	Meters            []json.RawMessage          `json:"meters"`
}

// parseDate accepts an ISO 8601 string, with or without zone, or the mongo
// export form {"$date": "..."}.
func parseDate(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var wrapper struct {
			Date string `json:"$date"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return time.Time{}, errors.WithStackTrace(err)
		}
		s = wrapper.Date
	}
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.WithStackTrace(fmt.Errorf("unparseable date: %s", s))
}

// FromJSON decodes a piece document, canonical or legacy. After decoding it
// renames leading slide articulations to plucks, consolidates runs of
// silence, reruns the duration pipeline, and de-duplicates section starts,
// so a second serialize/deserialize cycle is a fixed point.
func FromJSON(data []byte) (*Piece, error) {
	var raw rawPiece
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}

	var rg *raga.Raga
	if len(raw.Raga) > 0 && string(raw.Raga) != "null" {
		var err error
		rg, err = raga.FromJSON(raw.Raga)
		if err != nil {
			return nil, err
		}
	} else {
		rg = raga.MustNew(raga.Options{})
	}
	ctx := rg.Context()

	rawGrid := raw.PhraseGrid
	if rawGrid == nil {
		rawGrid = [][]json.RawMessage{raw.Phrases}
	}
	grid := make([][]*phrase.Phrase, len(rawGrid))
	for ri, row := range rawGrid {
		grid[ri] = make([]*phrase.Phrase, 0, len(row))
		for _, pm := range row {
			ph, err := phrase.FromJSON(pm, &ctx)
			if err != nil {
				return nil, err
			}
			grid[ri] = append(grid[ri], ph)
		}
	}

	// older files mark track-initial slides that are really plucks
	for _, row := range grid {
		for _, ph := range row {
			for _, t := range ph.Trajectories() {
				if art, ok := t.Articulations["0.00"]; ok && art.Name == trajectory.ArtSlide {
					art.Name = trajectory.ArtPluck
				}
			}
			ph.ConsolidateSilentTrajs()
		}
	}

	meters := make([]*meter.Meter, 0, len(raw.Meters))
	for _, mm := range raw.Meters {
		m, err := meter.FromJSON(mm)
		if err != nil {
			return nil, err
		}
		meters = append(meters, m)
	}

	created, err := parseDate(raw.DateCreated)
	if err != nil {
		return nil, err
	}
	modified, err := parseDate(raw.DateModified)
	if err != nil {
		return nil, err
	}

	ssGrid := raw.SectionStartsGrid
	if ssGrid == nil && raw.SectionStarts != nil {
		ssGrid = [][]int{raw.SectionStarts}
	}
	scGrid := raw.SectionCatGrid
	if scGrid == nil && raw.SectionCat != nil {
		scGrid = [][]*SectionCategorization{raw.SectionCat}
	}

	p := New(Options{
		Raga:              rg,
		Instrumentation:   raw.Instrumentation,
		PhraseGrid:        grid,
		Meters:            meters,
		Title:             raw.Title,
		Location:          raw.Location,
		Soloist:           raw.Soloist,
		SoloInstrument:    raw.SoloInstrument,
		AudioID:           raw.AudioID,
		UniqueID:          raw.ID,
		DateCreated:       created,
		DateModified:      modified,
		SectionStartsGrid: ssGrid,
		SectionCatGrid:    scGrid,
	})
	return p, nil
}
