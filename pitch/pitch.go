// Package pitch models a single scale degree in the movable sargam system.
// A Pitch carries no tuning of its own beyond a transient context threaded in
// at construction or load time, so a retuned raga never leaves stale
// frequencies behind.
package pitch

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gruntwork-io/go-commons/errors"
)

// SargamNames are the seven scale degree names, indexed by swara number.
var SargamNames = []string{"sa", "re", "ga", "ma", "pa", "dha", "ni"}

// DefaultFundamental is middle C# in Hz, the fallback Sa when no raga
// context has been threaded in.
const DefaultFundamental = 261.63

// Context is the transient tuning context a Pitch resolves against: a
// stratified ratio table (one row per scale degree, two entries for degrees
// with a lowered and raised variant) and the fundamental frequency of Sa.
type Context struct {
	Ratios      [][]float64
	Fundamental float64
}

// DefaultRatios returns the twelve-tone equal tempered ratio table.
func DefaultRatios() [][]float64 {
	et := func(c int) float64 { return math.Pow(2, float64(c)/12) }
	return [][]float64{
		{1},
		{et(1), et(2)},
		{et(3), et(4)},
		{et(5), et(6)},
		{et(7)},
		{et(8), et(9)},
		{et(10), et(11)},
	}
}

// DefaultContext returns an equal tempered context rooted at the default
// fundamental.
func DefaultContext() Context {
	return Context{Ratios: DefaultRatios(), Fundamental: DefaultFundamental}
}

// Pitch is one scale degree + octave + microtonal offset. The zero of
// LogOffset is the tempered position; the offset is in log2 space.
type Pitch struct {
	Swara     int
	Oct       int
	Raised    bool
	LogOffset float64

	ctx Context
}

// Options configures a new Pitch. The zero value yields Sa in the middle
// octave with the default tuning context.
type Options struct {
	Swara     int
	Oct       int
	Raised    *bool // defaults to true
	LogOffset float64
	Ctx       *Context
}

// New builds a Pitch, validating the swara range and the tuning context.
func New(opts Options) (*Pitch, error) {
	if opts.Swara < 0 || opts.Swara > 6 {
		return nil, errors.WithStackTrace(fmt.Errorf("invalid swara, must be 0-6: %d", opts.Swara))
	}
	raised := true
	if opts.Raised != nil {
		raised = *opts.Raised
	}
	ctx := DefaultContext()
	if opts.Ctx != nil {
		ctx = *opts.Ctx
	}
	if ctx.Fundamental <= 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("fundamental must be positive: %f", ctx.Fundamental))
	}
	if len(ctx.Ratios) != 7 {
		return nil, errors.WithStackTrace(fmt.Errorf("ratio table must have 7 rows, got %d", len(ctx.Ratios)))
	}
	return &Pitch{
		Swara:     opts.Swara,
		Oct:       opts.Oct,
		Raised:    raised,
		LogOffset: opts.LogOffset,
		ctx:       ctx,
	}, nil
}

// MustNew is New for static pitch literals in tests and defaults.
func MustNew(opts Options) *Pitch {
	p, err := New(opts)
	if err != nil {
		panic(err)
	}
	return p
}

// SetContext rethreads the tuning context.
func (p *Pitch) SetContext(ctx Context) {
	p.ctx = ctx
}

// SetFundamental rethreads only the fundamental, keeping the ratio table.
func (p *Pitch) SetFundamental(fundamental float64) {
	p.ctx.Fundamental = fundamental
}

// Fundamental returns the fundamental currently threaded into this pitch.
func (p *Pitch) Fundamental() float64 {
	return p.ctx.Fundamental
}

func (p *Pitch) ratio() float64 {
	row := p.ctx.Ratios[p.Swara]
	if len(row) == 1 {
		return row[0]
	}
	if p.Raised {
		return row[1]
	}
	return row[0]
}

// Frequency resolves the pitch against its threaded context.
func (p *Pitch) Frequency() float64 {
	return p.ctx.Fundamental * p.ratio() * math.Pow(2, float64(p.Oct)) * math.Pow(2, p.LogOffset)
}

// LogFreq is the frequency in log2 space.
func (p *Pitch) LogFreq() float64 {
	return math.Log2(p.Frequency())
}

// Chroma is the pitch class 0-11 within one octave.
func (p *Pitch) Chroma() int {
	chroma := []int{0, 1, 3, 5, 7, 8, 10}[p.Swara]
	if p.Raised && hasVariants(p.Swara) {
		chroma++
	}
	return chroma
}

// NumberedPitch is the chroma extended by octave displacement.
func (p *Pitch) NumberedPitch() int {
	return 12*p.Oct + p.Chroma()
}

// SargamLetter is the single-letter sargam name: uppercase for raised
// variants, lowercase for lowered. Sa and Pa have no variants.
func (p *Pitch) SargamLetter() string {
	letters := []string{"S", "R", "G", "M", "P", "D", "N"}
	letter := letters[p.Swara]
	if hasVariants(p.Swara) && !p.Raised {
		return string(letter[0] + 32)
	}
	return letter
}

// OctavedSargamLetter appends combining dots marking octave displacement,
// above for upper octaves and below for lower.
func (p *Pitch) OctavedSargamLetter() string {
	letter := p.SargamLetter()
	for i := 0; i < p.Oct; i++ {
		letter += "̇"
	}
	for i := 0; i > p.Oct; i-- {
		letter += "̣"
	}
	return letter
}

// SameAs reports whether two pitches name the same scale position,
// ignoring microtonal offset.
func (p *Pitch) SameAs(other *Pitch) bool {
	return p.Swara == other.Swara && p.Oct == other.Oct && p.Raised == other.Raised
}

func hasVariants(swara int) bool {
	return swara != 0 && swara != 4
}

// PitchNumberToChroma folds a numbered pitch back into the 0-11 range.
func PitchNumberToChroma(pitchNumber int) int {
	return ((pitchNumber % 12) + 12) % 12
}

// ChromaToScaleDegree maps a chroma to its scale degree and raised flag.
func ChromaToScaleDegree(chroma int) (int, bool) {
	switch chroma {
	case 0:
		return 0, true
	case 1:
		return 1, false
	case 2:
		return 1, true
	case 3:
		return 2, false
	case 4:
		return 2, true
	case 5:
		return 3, false
	case 6:
		return 3, true
	case 7:
		return 4, true
	case 8:
		return 5, false
	case 9:
		return 5, true
	case 10:
		return 6, false
	}
	return 6, true
}

// FromPitchNumber reconstructs a Pitch (with the default context) from a
// numbered pitch.
func FromPitchNumber(pitchNumber int) *Pitch {
	chroma := PitchNumberToChroma(pitchNumber)
	oct := int(math.Floor(float64(pitchNumber) / 12))
	swara, raised := ChromaToScaleDegree(chroma)
	return MustNew(Options{Swara: swara, Oct: oct, Raised: &raised})
}

// pitchJSON is the durable wire form. Tuning data is deliberately absent:
// the canonical form is resolved against caller-supplied context on load.
type pitchJSON struct {
	Swara     int     `json:"swara"`
	Oct       int     `json:"oct"`
	Raised    bool    `json:"raised"`
	LogOffset float64 `json:"logOffset"`
}

// rawPitch additionally accepts the legacy embedded tuning fields and swara
// spelled as a sargam name.
type rawPitch struct {
	Swara       json.RawMessage `json:"swara"`
	Oct         int             `json:"oct"`
	Raised      *bool           `json:"raised"`
	LogOffset   float64         `json:"logOffset"`
	Ratios      [][]float64     `json:"ratios"`
	Fundamental float64         `json:"fundamental"`
}

// MarshalJSON emits the stripped canonical form.
func (p *Pitch) MarshalJSON() ([]byte, error) {
	return json.Marshal(pitchJSON{
		Swara:     p.Swara,
		Oct:       p.Oct,
		Raised:    p.Raised,
		LogOffset: p.LogOffset,
	})
}

// FromJSON decodes either the canonical stripped form or a legacy form with
// embedded ratios/fundamental. A non-nil ctx always wins over embedded
// legacy tuning; with neither, the default context applies.
func FromJSON(data []byte, ctx *Context) (*Pitch, error) {
	var raw rawPitch
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}
	return fromRaw(raw, ctx)
}

func fromRaw(raw rawPitch, ctx *Context) (*Pitch, error) {
	swara, err := parseSwara(raw.Swara)
	if err != nil {
		return nil, err
	}
	resolved := resolveContext(raw, ctx)
	return New(Options{
		Swara:     swara,
		Oct:       raw.Oct,
		Raised:    raw.Raised,
		LogOffset: raw.LogOffset,
		Ctx:       &resolved,
	})
}

// resolveContext is the pure context resolution step: caller context beats
// legacy embedded values, which beat defaults.
func resolveContext(raw rawPitch, ctx *Context) Context {
	if ctx != nil {
		return *ctx
	}
	out := DefaultContext()
	if len(raw.Ratios) == 7 {
		out.Ratios = raw.Ratios
	}
	if raw.Fundamental > 0 {
		out.Fundamental = raw.Fundamental
	}
	return out
}

func parseSwara(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var num int
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, errors.WithStackTrace(fmt.Errorf("invalid swara: %s", string(raw)))
	}
	for i, s := range SargamNames {
		if s == name {
			return i, nil
		}
	}
	return 0, errors.WithStackTrace(fmt.Errorf("unknown swara name: %q", name))
}
