// Package trajectory implements the fourteen parametric interpolation
// families that map normalized intra-event time to frequency: fixed pitches,
// simple and sloped glides, compound ladle figures, the krintin
// hammer/slide family, vibrato and silence.
package trajectory

import (
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/logger"
	"github.com/robmorgan/raag/pitch"
)

// Instrument identifies the track instrumentation. It constrains which
// trajectory types are available and whether a default pluck is attached.
type Instrument string

const (
	InstrumentSitar  Instrument = "Sitar"
	InstrumentVocalM Instrument = "Vocal (M)"
	InstrumentVocalF Instrument = "Vocal (F)"
)

// Trajectory type ids.
const (
	TypeFixed                   = 0
	TypeSimpleBend              = 1
	TypeSlopedStart             = 2
	TypeSlopedEnd               = 3
	TypeLadle                   = 4
	TypeReverseLadle            = 5
	TypeMultiBend               = 6
	TypeKrintin                 = 7
	TypeKrintinSlide            = 8
	TypeKrintinSlideHammer      = 9
	TypeDenseKrintinSlideHammer = 10
	TypeSlide                   = 11
	TypeSilent                  = 12
	TypeVibrato                 = 13
)

// Names maps type ids to display names.
var Names = []string{
	"Fixed",
	"Bend: Simple",
	"Bend: Sloped Start",
	"Bend: Sloped End",
	"Bend: Ladle",
	"Bend: Reverse Ladle",
	"Bend: Simple Multiple",
	"Krintin",
	"Krintin Slide",
	"Krintin Slide Hammer",
	"Dense Krintin Slide Hammer",
	"Slide",
	"Silent",
	"Vibrato",
}

// minPitches is the pitch count each type requires.
var minPitches = []int{1, 2, 2, 2, 3, 3, 2, 2, 3, 4, 6, 2, 0, 1}

// DefaultSlope is the power-law exponent for sloped bends.
const DefaultSlope = 2.0

// VibObj parameterizes a vibrato trajectory.
type VibObj struct {
	Periods    int     `json:"periods"`
	VertOffset float64 `json:"vertOffset"`
	InitUp     bool    `json:"initUp"`
	Extent     float64 `json:"extent"`
}

// DefaultVibObj returns the standard eight-period vibrato.
func DefaultVibObj() VibObj {
	return VibObj{Periods: 8, VertOffset: 0, InitUp: true, Extent: 0.05}
}

// Trajectory is one melodic gesture: an ordered pitch set, a total duration
// in seconds, sub-duration fractions partitioning it, and articulation
// markers keyed by normalized time fraction.
type Trajectory struct {
	ID            int
	Pitches       []*pitch.Pitch
	DurTot        float64
	DurArray      []float64
	Slope         float64
	Articulations map[string]*Articulation
	VibObj        VibObj
	FundID12      float64
	Automation    *Automation
	GroupID       string
	UniqueID      string
	Tags          []string

	// assigned by the owning phrase's recompute pass
	Num       int
	PhraseIdx int
	StartTime float64

	Instrumentation Instrument
}

// Options configures a new Trajectory. Zero values take type-specific
// defaults matching the wire format's optional fields.
type Options struct {
	ID              int
	Pitches         []*pitch.Pitch
	DurTot          float64
	DurArray        []float64
	Slope           float64
	Articulations   map[string]*Articulation
	Instrumentation Instrument
	VibObj          *VibObj
	FundID12        float64
	Automation      *Automation
	GroupID         string
	UniqueID        string
	Tags            []string
}

// New builds and validates a Trajectory. Pitch-count mismatches and
// non-positive durations are fatal; zero-length sub-duration fractions are
// silently pruned together with their paired pitch.
func New(opts Options) (*Trajectory, error) {
	if opts.ID < 0 || opts.ID > 13 {
		return nil, errors.WithStackTrace(fmt.Errorf("invalid trajectory id: %d", opts.ID))
	}
	pitches := opts.Pitches
	if len(pitches) == 0 && opts.ID == TypeSilent {
		pitches = []*pitch.Pitch{}
	}
	if len(pitches) < minPitches[opts.ID] {
		return nil, errors.WithStackTrace(fmt.Errorf(
			"trajectory type %d (%s) requires %d pitches, got %d",
			opts.ID, Names[opts.ID], minPitches[opts.ID], len(pitches)))
	}
	durTot := opts.DurTot
	if durTot == 0 {
		durTot = 1
	}
	if !math.IsNaN(durTot) && durTot <= 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("durTot must be positive: %f", durTot))
	}
	slope := opts.Slope
	if slope == 0 {
		slope = DefaultSlope
	}
	instrumentation := opts.Instrumentation
	if instrumentation == "" {
		instrumentation = InstrumentSitar
	}
	vibObj := DefaultVibObj()
	if opts.VibObj != nil {
		vibObj = *opts.VibObj
	}
	uniqueID := opts.UniqueID
	if uniqueID == "" {
		uniqueID = uuid.NewString()
	}
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}

	articulations := opts.Articulations
	if articulations == nil {
		articulations = map[string]*Articulation{}
		if instrumentation == InstrumentSitar {
			articulations["0.00"] = NewPluck("d")
		}
	}
	// legacy key form
	if art, ok := articulations["0"]; ok {
		articulations["0.00"] = art
		delete(articulations, "0")
	}

	automation := opts.Automation
	if automation == nil && opts.ID != TypeSilent {
		automation = NewAutomation()
	}

	t := &Trajectory{
		ID:              opts.ID,
		Pitches:         pitches,
		DurTot:          durTot,
		DurArray:        opts.DurArray,
		Slope:           slope,
		Articulations:   articulations,
		VibObj:          vibObj,
		FundID12:        opts.FundID12,
		Automation:      automation,
		GroupID:         opts.GroupID,
		UniqueID:        uniqueID,
		Tags:            tags,
		Num:             -1,
		PhraseIdx:       -1,
		Instrumentation: instrumentation,
	}
	t.applyDurArrayDefaults()
	t.pruneZeroDurations()

	if instrumentation == InstrumentVocalM || instrumentation == InstrumentVocalF {
		for k, art := range t.Articulations {
			if art.Name == ArtPluck {
				delete(t.Articulations, k)
			}
		}
	}
	return t, nil
}

// MustNew is New for call sites whose options are statically valid.
func MustNew(opts Options) *Trajectory {
	t, err := New(opts)
	if err != nil {
		panic(err)
	}
	return t
}

// applyDurArrayDefaults fills in the type-specific sub-duration partition and
// auto-inserts the hammer/slide markers the krintin family implies at its
// segment boundaries.
func (t *Trajectory) applyDurArrayDefaults() {
	switch {
	case t.ID < 4:
		t.DurArray = []float64{1}
	case t.ID == TypeLadle:
		if t.DurArray == nil {
			t.DurArray = []float64{1.0 / 3, 2.0 / 3}
		}
	case t.ID == TypeReverseLadle:
		if t.DurArray == nil {
			t.DurArray = []float64{2.0 / 3, 1.0 / 3}
		}
	case t.ID == TypeMultiBend:
		if t.DurArray == nil {
			n := len(t.Pitches) - 1
			if n < 1 {
				t.DurArray = []float64{}
				return
			}
			t.DurArray = make([]float64, n)
			for i := range t.DurArray {
				t.DurArray[i] = 1 / float64(n)
			}
		}
	case t.ID == TypeKrintin:
		if t.DurArray == nil {
			t.DurArray = []float64{0.2, 0.8}
		}
		starts := Starts(t.DurArray)
		name := ArtHammerOff
		lf := t.LogFreqs()
		if len(lf) > 1 && lf[1] >= lf[0] {
			name = ArtHammerOn
		}
		t.Articulations[fractionKey(starts[1])] = &Articulation{Name: name}
	case t.ID == TypeKrintinSlide:
		if t.DurArray == nil {
			t.DurArray = []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
		}
		starts := Starts(t.DurArray)
		t.Articulations[fractionKey(starts[1])] = &Articulation{Name: ArtHammerOff}
		t.Articulations[fractionKey(starts[2])] = &Articulation{Name: ArtSlide}
	case t.ID == TypeKrintinSlideHammer:
		if t.DurArray == nil {
			t.DurArray = []float64{0.25, 0.25, 0.25, 0.25}
		}
		starts := Starts(t.DurArray)
		t.Articulations[fractionKey(starts[1])] = &Articulation{Name: ArtHammerOff}
		t.Articulations[fractionKey(starts[2])] = &Articulation{Name: ArtSlide}
		t.Articulations[fractionKey(starts[3])] = &Articulation{Name: ArtHammerOn}
	case t.ID == TypeDenseKrintinSlideHammer:
		if t.DurArray == nil {
			t.DurArray = []float64{1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6, 1.0 / 6}
		}
		starts := Starts(t.DurArray)
		t.Articulations[fractionKey(starts[1])] = &Articulation{Name: ArtSlide}
		t.Articulations[fractionKey(starts[2])] = &Articulation{Name: ArtHammerOn}
		t.Articulations[fractionKey(starts[3])] = &Articulation{Name: ArtHammerOff}
		t.Articulations[fractionKey(starts[4])] = &Articulation{Name: ArtSlide}
		t.Articulations[fractionKey(starts[5])] = &Articulation{Name: ArtHammerOn}
	case t.ID == TypeSlide:
		if t.DurArray == nil || len(t.DurArray) == 1 {
			t.DurArray = []float64{0.5, 0.5}
		}
		starts := Starts(t.DurArray)
		t.Articulations[fractionKey(starts[1])] = &Articulation{Name: ArtSlide}
	}
}

// pruneZeroDurations drops zero-length sub-durations and their paired pitch.
func (t *Trajectory) pruneZeroDurations() {
	i := 0
	for i < len(t.DurArray) {
		if t.DurArray[i] == 0 {
			logger.GetProjectLogger().Debugf("pruning zero-length sub-duration at index %d", i)
			t.DurArray = append(t.DurArray[:i], t.DurArray[i+1:]...)
			if i+1 < len(t.Pitches) {
				t.Pitches = append(t.Pitches[:i+1], t.Pitches[i+2:]...)
			}
		} else {
			i++
		}
	}
}

func fractionKey(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Name is the display name derived from the type id.
func (t *Trajectory) Name() string {
	return Names[t.ID]
}

// Freqs resolves every pitch against its threaded tuning context.
func (t *Trajectory) Freqs() []float64 {
	out := make([]float64, len(t.Pitches))
	for i, p := range t.Pitches {
		out[i] = p.Frequency()
	}
	return out
}

// LogFreqs is Freqs in log2 space.
func (t *Trajectory) LogFreqs() []float64 {
	out := make([]float64, len(t.Pitches))
	for i, p := range t.Pitches {
		out[i] = p.LogFreq()
	}
	return out
}

// Sloped reports whether the type uses the power-law slope parameter.
func (t *Trajectory) Sloped() bool {
	return t.ID == TypeSlopedStart || t.ID == TypeSlopedEnd ||
		t.ID == TypeLadle || t.ID == TypeReverseLadle
}

// MinFreq is the lowest pitch frequency.
func (t *Trajectory) MinFreq() float64 {
	out := math.Inf(1)
	for _, f := range t.Freqs() {
		out = math.Min(out, f)
	}
	return out
}

// MaxFreq is the highest pitch frequency.
func (t *Trajectory) MaxFreq() float64 {
	out := math.Inf(-1)
	for _, f := range t.Freqs() {
		out = math.Max(out, f)
	}
	return out
}

// EndTime is the phrase-relative end of the trajectory.
func (t *Trajectory) EndTime() float64 {
	return t.StartTime + t.DurTot
}

// UpdateFundamental rethreads a new fundamental into every owned pitch.
func (t *Trajectory) UpdateFundamental(fundamental float64) {
	for _, p := range t.Pitches {
		p.SetFundamental(fundamental)
	}
}

// Representation selects how DurationsOfFixedPitches keys its output.
type Representation string

const (
	RepPitchNumber         Representation = "pitchNumber"
	RepChroma              Representation = "chroma"
	RepScaleDegree         Representation = "scaleDegree"
	RepSargamLetter        Representation = "sargamLetter"
	RepOctavedSargamLetter Representation = "octavedSargamLetter"
)

// DurationsOfFixedPitches sums the seconds each pitch is genuinely held:
// fixed and vibrato types in full; glide types only when their endpoints
// coincide; compound types per held sub-segment; the krintin family per
// fraction-weighted segment. Pure glides contribute nothing.
func (t *Trajectory) DurationsOfFixedPitches(rep Representation) (map[string]float64, error) {
	byNumber := map[int]float64{}
	switch t.ID {
	case TypeFixed, TypeVibrato:
		byNumber[t.Pitches[0].NumberedPitch()] = t.DurTot
	case TypeSimpleBend, TypeSlopedStart, TypeSlopedEnd:
		if t.Pitches[0].NumberedPitch() == t.Pitches[1].NumberedPitch() {
			byNumber[t.Pitches[0].NumberedPitch()] = t.DurTot
		}
	case TypeLadle, TypeReverseLadle:
		p0 := t.Pitches[0].NumberedPitch()
		p1 := t.Pitches[1].NumberedPitch()
		p2 := t.Pitches[2].NumberedPitch()
		if p0 == p1 {
			byNumber[p0] = t.DurTot * t.DurArray[0]
		} else if p1 == p2 {
			byNumber[p1] += t.DurTot * t.DurArray[1]
		}
	case TypeMultiBend:
		last := math.MinInt32
		for i, p := range t.Pitches {
			num := p.NumberedPitch()
			if num == last {
				byNumber[num] += t.DurTot * t.DurArray[i-1]
			}
			last = num
		}
	case TypeKrintin, TypeKrintinSlide, TypeKrintinSlideHammer,
		TypeDenseKrintinSlideHammer, TypeSlide:
		for i, p := range t.Pitches {
			if i < len(t.DurArray) {
				byNumber[p.NumberedPitch()] += t.DurTot * t.DurArray[i]
			}
		}
	case TypeSilent:
		// silence holds nothing
	}
	return representDurations(byNumber, rep)
}

func representDurations(byNumber map[int]float64, rep Representation) (map[string]float64, error) {
	out := map[string]float64{}
	for num, dur := range byNumber {
		switch rep {
		case RepPitchNumber:
			out[strconv.Itoa(num)] += dur
		case RepChroma:
			out[strconv.Itoa(pitch.PitchNumberToChroma(num))] += dur
		case RepScaleDegree:
			sd, _ := pitch.ChromaToScaleDegree(pitch.PitchNumberToChroma(num))
			out[strconv.Itoa(sd)] += dur
		case RepSargamLetter:
			out[pitch.FromPitchNumber(num).SargamLetter()] += dur
		default:
			return nil, errors.WithStackTrace(fmt.Errorf("representation not recognized: %q", rep))
		}
	}
	return out, nil
}
