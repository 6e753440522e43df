// Package raga is the tuning context for a transcription: a named rule set
// selecting which scale degree variants are in play, plus the fundamental
// that anchors every ratio.
package raga

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/pitch"
)

// PitchRule marks which variants of a scale degree the raga admits.
type PitchRule struct {
	Lowered bool `json:"lowered"`
	Raised  bool `json:"raised"`
}

// RuleSet is one admissibility flag per scale degree. Sa and Pa have no
// variants.
type RuleSet struct {
	Sa  bool      `json:"sa"`
	Re  PitchRule `json:"re"`
	Ga  PitchRule `json:"ga"`
	Ma  PitchRule `json:"ma"`
	Pa  bool      `json:"pa"`
	Dha PitchRule `json:"dha"`
	Ni  PitchRule `json:"ni"`
}

// YamanRuleSet is the default rule set: shuddha everything except tivra Ma.
func YamanRuleSet() RuleSet {
	return RuleSet{
		Sa:  true,
		Re:  PitchRule{Raised: true},
		Ga:  PitchRule{Raised: true},
		Ma:  PitchRule{Raised: true},
		Pa:  true,
		Dha: PitchRule{Raised: true},
		Ni:  PitchRule{Raised: true},
	}
}

// Raga binds a rule set to a fundamental and a stratified ratio table.
type Raga struct {
	Name        string
	Fundamental float64
	RuleSet     RuleSet

	ratios [][]float64
}

// Options configures a new Raga. Zero values fall back to Yaman at the
// default fundamental with equal tempered ratios.
type Options struct {
	Name        string
	Fundamental float64
	RuleSet     *RuleSet
	Ratios      [][]float64
}

// New builds a Raga.
func New(opts Options) (*Raga, error) {
	name := opts.Name
	if name == "" {
		name = "Yaman"
	}
	fundamental := opts.Fundamental
	if fundamental == 0 {
		fundamental = pitch.DefaultFundamental
	}
	if fundamental < 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("fundamental must be positive: %f", fundamental))
	}
	rules := YamanRuleSet()
	if opts.RuleSet != nil {
		rules = *opts.RuleSet
	}
	ratios := opts.Ratios
	if ratios == nil {
		ratios = pitch.DefaultRatios()
	}
	if len(ratios) != 7 {
		return nil, errors.WithStackTrace(fmt.Errorf("ratio table must have 7 rows, got %d", len(ratios)))
	}
	return &Raga{
		Name:        name,
		Fundamental: fundamental,
		RuleSet:     rules,
		ratios:      ratios,
	}, nil
}

// MustNew is New for static raga literals.
func MustNew(opts Options) *Raga {
	r, err := New(opts)
	if err != nil {
		panic(err)
	}
	return r
}

// StratifiedRatios is the per-degree ratio table, two entries for degrees
// with a lowered and raised variant.
func (r *Raga) StratifiedRatios() [][]float64 {
	return r.ratios
}

// Context produces the tuning context to thread into pitches.
func (r *Raga) Context() pitch.Context {
	return pitch.Context{Ratios: r.ratios, Fundamental: r.Fundamental}
}

// SetFundamental retunes the raga in place. Structures that cached pitch
// contexts must rethread them afterwards.
func (r *Raga) SetFundamental(fundamental float64) {
	r.Fundamental = fundamental
}

// PitchFromLogFreq finds the in-raga pitch nearest to the given log2
// frequency.
func (r *Raga) PitchFromLogFreq(logFreq float64) *pitch.Pitch {
	logFund := math.Log2(r.Fundamental)
	rel := logFreq - logFund
	oct := int(math.Floor(rel))
	chromaPos := rel - math.Floor(rel)

	best := 0
	bestDist := math.Inf(1)
	for chroma := 0; chroma < 12; chroma++ {
		dist := math.Abs(chromaPos - float64(chroma)/12)
		if dist < bestDist {
			best = chroma
			bestDist = dist
		}
	}
	// the tritone boundary wraps to Sa of the next octave
	if chromaPos > 11.5/12 {
		best = 0
		oct++
	}
	swara, raised := pitch.ChromaToScaleDegree(best)
	ctx := r.Context()
	return pitch.MustNew(pitch.Options{Swara: swara, Oct: oct, Raised: &raised, Ctx: &ctx})
}

type ragaJSON struct {
	Name        string      `json:"name"`
	Fundamental float64     `json:"fundamental"`
	RuleSet     RuleSet     `json:"ruleSet"`
	Ratios      [][]float64 `json:"ratios,omitempty"`
}

// MarshalJSON keeps the ratio table inline so a piece file is
// self-contained at the root even though pitches are stripped.
func (r *Raga) MarshalJSON() ([]byte, error) {
	return json.Marshal(ragaJSON{
		Name:        r.Name,
		Fundamental: r.Fundamental,
		RuleSet:     r.RuleSet,
		Ratios:      r.ratios,
	})
}

// FromJSON decodes a Raga, tolerating files that omit the ratio table.
func FromJSON(data []byte) (*Raga, error) {
	var raw ragaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}
	rules := raw.RuleSet
	return New(Options{
		Name:        raw.Name,
		Fundamental: raw.Fundamental,
		RuleSet:     &rules,
		Ratios:      raw.Ratios,
	})
}
