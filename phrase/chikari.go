package phrase

import (
	"github.com/google/uuid"
	"github.com/robmorgan/raag/pitch"
)

// Chikari is a drone-string strike annotation. Phrases key chikaris by their
// offset in seconds from the phrase start.
type Chikari struct {
	UniqueID string         `json:"uniqueId"`
	Pitches  []*pitch.Pitch `json:"pitches"`
}

// NewChikari builds a strike over the given drone pitches; with none given
// it defaults to Sa one and two octaves up.
func NewChikari(pitches []*pitch.Pitch, ctx *pitch.Context) *Chikari {
	if len(pitches) == 0 {
		resolved := pitch.DefaultContext()
		if ctx != nil {
			resolved = *ctx
		}
		pitches = []*pitch.Pitch{
			pitch.MustNew(pitch.Options{Swara: 0, Oct: 1, Ctx: &resolved}),
			pitch.MustNew(pitch.Options{Swara: 0, Oct: 2, Ctx: &resolved}),
		}
	}
	return &Chikari{UniqueID: uuid.NewString(), Pitches: pitches}
}
