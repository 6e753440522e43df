// Package piece holds the root transcription aggregate: one phrase sequence
// per instrument track, the shared raga tuning context, meters, and section
// boundaries. Durations flow bottom-up (trajectories into phrases into the
// piece total) and start times flow back down; every duration-affecting edit
// runs that pipeline before the piece is query-consistent again.
package piece

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/robmorgan/raag/meter"
	"github.com/robmorgan/raag/phrase"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/raga"
	"github.com/robmorgan/raag/trajectory"
)

const epsilon = 1e-9

// Piece is the full transcription document.
type Piece struct {
	Raga            *raga.Raga
	Instrumentation []trajectory.Instrument
	PhraseGrid      [][]*phrase.Phrase
	Meters          []*meter.Meter

	Title          string
	Location       string
	Soloist        string
	SoloInstrument string
	AudioID        string
	UniqueID       string
	DateCreated    time.Time
	DateModified   time.Time

	DurTot            float64
	DurArrayGrid      [][]float64
	SectionStartsGrid [][]int
	SectionCatGrid    [][]*SectionCategorization

	clk clock.PassiveClock
}

// Options configures New. Zero values take the usual editor defaults; a nil
// DurTot forces the duration pipeline to run at construction.
type Options struct {
	Raga            *raga.Raga
	Instrumentation []trajectory.Instrument
	Phrases         []*phrase.Phrase
	PhraseGrid      [][]*phrase.Phrase
	Meters          []*meter.Meter

	Title          string
	Location       string
	Soloist        string
	SoloInstrument string
	AudioID        string
	UniqueID       string
	DateCreated    time.Time
	DateModified   time.Time

	DurTot            *float64
	DurArrayGrid      [][]float64
	SectionStarts     []int
	SectionStartsGrid [][]int
	SectionCatGrid    [][]*SectionCategorization

	Clock clock.PassiveClock
}

// PossibleTrajs lists the trajectory type ids an instrument can play.
func PossibleTrajs(inst trajectory.Instrument) []int {
	switch inst {
	case trajectory.InstrumentVocalM, trajectory.InstrumentVocalF:
		return []int{0, 1, 2, 3, 4, 5, 6, 12, 13}
	default:
		return []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	}
}

func New(opts Options) *Piece {
	rg := opts.Raga
	if rg == nil {
		rg = raga.MustNew(raga.Options{})
	}
	instrumentation := opts.Instrumentation
	if len(instrumentation) == 0 {
		instrumentation = []trajectory.Instrument{trajectory.InstrumentSitar}
	}
	grid := opts.PhraseGrid
	if grid == nil {
		grid = [][]*phrase.Phrase{opts.Phrases}
	}
	for len(grid) < len(instrumentation) {
		grid = append(grid, nil)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	created := opts.DateCreated
	if created.IsZero() {
		created = clk.Now()
	}
	modified := opts.DateModified
	if modified.IsZero() {
		modified = clk.Now()
	}
	title := opts.Title
	if title == "" {
		title = "untitled"
	}
	location := opts.Location
	if location == "" {
		location = "Santa Cruz"
	}
	id := opts.UniqueID
	if id == "" {
		id = uuid.NewString()
	}

	ssGrid := opts.SectionStartsGrid
	if ssGrid == nil {
		ss := opts.SectionStarts
		if ss == nil {
			ss = []int{0}
		}
		ssGrid = [][]int{ss}
	}
	for len(ssGrid) < len(instrumentation) {
		ssGrid = append(ssGrid, []int{0})
	}
	for i, ss := range ssGrid {
		ssGrid[i] = sortedUnique(ss)
	}

	scGrid := opts.SectionCatGrid
	if scGrid == nil {
		scGrid = make([][]*SectionCategorization, 0, len(ssGrid))
		for range ssGrid {
			scGrid = append(scGrid, nil)
		}
	}
	for len(scGrid) < len(ssGrid) {
		scGrid = append(scGrid, nil)
	}
	for i, ss := range ssGrid {
		for _, c := range scGrid[i] {
			c.CleanUp()
		}
		for len(scGrid[i]) < len(ss) {
			scGrid[i] = append(scGrid[i], InitSectionCategorization())
		}
	}

	p := &Piece{
		Raga:              rg,
		Instrumentation:   instrumentation,
		PhraseGrid:        grid,
		Meters:            opts.Meters,
		Title:             title,
		Location:          location,
		Soloist:           opts.Soloist,
		SoloInstrument:    opts.SoloInstrument,
		AudioID:           opts.AudioID,
		UniqueID:          id,
		DateCreated:       created,
		DateModified:      modified,
		SectionStartsGrid: ssGrid,
		SectionCatGrid:    scGrid,
		clk:               clk,
	}
	if opts.DurTot == nil || opts.DurArrayGrid == nil {
		p.DurArrayFromPhrases()
	} else {
		p.DurTot = *opts.DurTot
		p.DurArrayGrid = opts.DurArrayGrid
		p.UpdateStartTimes()
	}
	return p
}

func sortedUnique(in []int) []int {
	out := append([]int(nil), in...)
	slices.Sort(out)
	return slices.Compact(out)
}

// Touch stamps the modification time.
func (p *Piece) Touch() {
	p.DateModified = p.clk.Now()
}

// Phrases is one track's phrase sequence.
func (p *Piece) Phrases(track int) []*phrase.Phrase {
	return p.PhraseGrid[track]
}

// DurArray is one track's phrase duration fractions.
func (p *Piece) DurArray(track int) []float64 {
	return p.DurArrayGrid[track]
}

// SectionStarts is one track's section start phrase indices.
func (p *Piece) SectionStarts(track int) []int {
	return p.SectionStartsGrid[track]
}

// TrajIdxs lists the trajectory types a track's instrument allows.
func (p *Piece) TrajIdxs(track int) []int {
	return PossibleTrajs(p.Instrumentation[track])
}

func silentTraj(durTot, fundamental float64) *trajectory.Trajectory {
	return trajectory.MustNew(trajectory.Options{
		ID:       trajectory.TypeSilent,
		DurTot:   durTot,
		FundID12: fundamental,
	})
}

// UpdateStartTimes propagates absolute phrase start times from the duration
// fraction grid and restamps phrase and trajectory positions.
func (p *Piece) UpdateStartTimes() {
	if p.DurArrayGrid == nil {
		return
	}
	for track, phrases := range p.PhraseGrid {
		if track >= len(p.DurArrayGrid) {
			break
		}
		durs := make([]float64, len(p.DurArrayGrid[track]))
		for i, frac := range p.DurArrayGrid[track] {
			durs[i] = frac * p.DurTot
		}
		starts := trajectory.Starts(durs)
		for i, ph := range phrases {
			if i < len(starts) {
				ph.StartTime = starts[i]
			}
			ph.PieceIdx = i
			ph.AssignTrajNums()
		}
	}
}

// DurTotFromPhrases sets the piece total to the longest track and pads every
// shorter track with trailing silence so all tracks sum equal.
func (p *Piece) DurTotFromPhrases() {
	maxDur := 0.0
	totals := make([]float64, len(p.PhraseGrid))
	for i, row := range p.PhraseGrid {
		for _, ph := range row {
			totals[i] += ph.DurTot
		}
		if totals[i] > maxDur {
			maxDur = totals[i]
		}
	}
	p.DurTot = maxDur
	for i, total := range totals {
		if total == maxDur {
			continue
		}
		extra := maxDur - total
		silent := silentTraj(extra, p.Raga.Fundamental)
		if len(p.PhraseGrid[i]) > 0 {
			last := p.PhraseGrid[i][len(p.PhraseGrid[i])-1]
			last.TrajectoryGrid[0] = append(last.TrajectoryGrid[0], silent)
			last.Reset()
		} else {
			ph := phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{silent}})
			p.PhraseGrid[i] = append(p.PhraseGrid[i], ph)
		}
	}
}

// DurArrayFromPhrases runs the full duration pipeline: phrase totals roll up
// into the piece total, NaN-duration trajectories are dropped, fraction rows
// are rebuilt, and start times are re-propagated.
func (p *Piece) DurArrayFromPhrases() {
	p.DurTotFromPhrases()
	p.DurArrayGrid = make([][]float64, len(p.PhraseGrid))
	if p.DurTot == 0 {
		for i := range p.DurArrayGrid {
			p.DurArrayGrid[i] = []float64{}
		}
		return
	}
	for i, row := range p.PhraseGrid {
		arr := make([]float64, 0, len(row))
		for _, ph := range row {
			if math.IsNaN(ph.DurTot) {
				kept := ph.TrajectoryGrid[0][:0]
				for _, t := range ph.TrajectoryGrid[0] {
					if !math.IsNaN(t.DurTot) {
						kept = append(kept, t)
					}
				}
				ph.TrajectoryGrid[0] = kept
				ph.Reset()
			}
			arr = append(arr, ph.DurTot/p.DurTot)
		}
		p.DurArrayGrid[i] = arr
	}
	p.UpdateStartTimes()
}

// SetDurTot lengthens the piece to durTot, extending or appending trailing
// silence on the primary track. Shrinking is an error.
func (p *Piece) SetDurTot(durTot float64) error {
	if durTot < p.DurTot {
		return errors.WithStackTrace(fmt.Errorf("cannot shorten duration: %f < %f", durTot, p.DurTot))
	}
	extra := durTot - p.DurTot
	if extra > 0 && len(p.PhraseGrid[0]) > 0 {
		last := p.PhraseGrid[0][len(p.PhraseGrid[0])-1]
		trajs := last.Trajectories()
		if len(trajs) > 0 && trajs[len(trajs)-1].ID == trajectory.TypeSilent {
			trajs[len(trajs)-1].DurTot += extra
		} else {
			last.TrajectoryGrid[0] = append(last.TrajectoryGrid[0], silentTraj(extra, p.Raga.Fundamental))
		}
		last.Reset()
	}
	p.DurTot = durTot
	p.DurArrayFromPhrases()
	p.Touch()
	return nil
}

// FillRemainingDuration pads a track with silence up to targetDuration. A
// target at or below the current length is a no-op.
func (p *Piece) FillRemainingDuration(targetDuration float64, track int) {
	current := 0.0
	for _, ph := range p.PhraseGrid[track] {
		current += ph.DurTot
	}
	if targetDuration <= current {
		return
	}
	remaining := targetDuration - current
	silent := silentTraj(remaining, p.Raga.Fundamental)
	if len(p.PhraseGrid[track]) > 0 {
		last := p.PhraseGrid[track][len(p.PhraseGrid[track])-1]
		last.TrajectoryGrid[0] = append(last.TrajectoryGrid[0], silent)
		last.Reset()
	} else {
		ph := phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{silent}})
		p.PhraseGrid[track] = append(p.PhraseGrid[track], ph)
	}
	p.DurArrayFromPhrases()
	p.Touch()
}

// AddTrajectory places traj so it begins at the given absolute time on a
// track. Placement succeeds only when the instant falls inside an existing
// silent trajectory that can absorb the new duration without crossing a
// phrase boundary; the false return is the normal can't-place signal.
func (p *Piece) AddTrajectory(traj *trajectory.Trajectory, at float64, track int) bool {
	if len(p.PhraseGrid[track]) == 0 {
		return false
	}
	phIdx := p.PhraseIdxFromTime(at, track)
	ph := p.PhraseGrid[track][phIdx]
	local := at - ph.StartTime
	if local < 0 {
		return false
	}

	row := ph.TrajectoryGrid[0]
	idx := -1
	offset := 0.0
	acc := 0.0
	for i, t := range row {
		if local >= acc && local < acc+t.DurTot {
			idx = i
			offset = local - acc
			break
		}
		acc += t.DurTot
	}
	if idx == -1 {
		return false
	}
	filler := row[idx]
	if filler.ID != trajectory.TypeSilent {
		return false
	}
	if filler.DurTot < offset+traj.DurTot-epsilon {
		return false
	}

	remainder := filler.DurTot - offset - traj.DurTot
	var replacement []*trajectory.Trajectory
	if offset > epsilon {
		filler.DurTot = offset
		replacement = append(replacement, filler)
	}
	replacement = append(replacement, traj)
	if remainder > epsilon {
		replacement = append(replacement, silentTraj(remainder, filler.FundID12))
	}
	ph.TrajectoryGrid[0] = append(row[:idx], append(replacement, row[idx+1:]...)...)
	ph.Reset()
	p.DurArrayFromPhrases()
	p.Touch()
	return true
}

// AddMeter registers a meter, rejecting any time overlap with an existing
// one.
func (p *Piece) AddMeter(m *meter.Meter) error {
	for _, existing := range p.Meters {
		durE := existing.DurTot()
		durNew := m.DurTot()
		c1 := existing.StartTime <= m.StartTime && m.StartTime < existing.StartTime+durE
		c2 := existing.StartTime < m.StartTime+durNew && m.StartTime+durNew <= existing.StartTime+durE
		c3 := m.StartTime <= existing.StartTime && m.StartTime+durNew >= existing.StartTime+durE
		if c1 || c2 || c3 {
			return errors.WithStackTrace(fmt.Errorf("meters overlap"))
		}
	}
	p.Meters = append(p.Meters, m)
	p.Touch()
	return nil
}

// RemoveMeter drops a meter by identity.
func (p *Piece) RemoveMeter(m *meter.Meter) {
	for i, existing := range p.Meters {
		if existing == m {
			p.Meters = append(p.Meters[:i], p.Meters[i+1:]...)
			p.Touch()
			return
		}
	}
}

// PulseFromID searches every meter's deepest pulse layer.
func (p *Piece) PulseFromID(id string) *meter.Pulse {
	for _, m := range p.Meters {
		for _, pulse := range m.AllPulses() {
			if pulse.UniqueID == id {
				return pulse
			}
		}
	}
	return nil
}

// ChunkedMeters buckets meters into fixed windows by start time.
func (p *Piece) ChunkedMeters(duration float64) [][]*meter.Meter {
	var chunks [][]*meter.Meter
	for i := 0.0; i < p.DurTot; i += duration {
		var chunk []*meter.Meter
		for _, m := range p.Meters {
			if m.StartTime >= i && m.StartTime < i+duration {
				chunk = append(chunk, m)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// AllTrajectories flattens one track's trajectories in time order.
func (p *Piece) AllTrajectories(track int) []*trajectory.Trajectory {
	var out []*trajectory.Trajectory
	for _, ph := range p.PhraseGrid[track] {
		out = append(out, ph.Trajectories()...)
	}
	return out
}

// AllGroups flattens one track's group annotations.
func (p *Piece) AllGroups(track int) []*phrase.Group {
	var out []*phrase.Group
	for _, ph := range p.PhraseGrid[track] {
		for _, row := range ph.GroupsGrid {
			out = append(out, row...)
		}
	}
	return out
}

// TrajStartTimes lists each trajectory's absolute start on a track.
func (p *Piece) TrajStartTimes(track int) []float64 {
	trajs := p.AllTrajectories(track)
	times := make([]float64, 0, len(trajs))
	acc := 0.0
	for _, t := range trajs {
		times = append(times, acc)
		acc += t.DurTot
	}
	return times
}

// DurStarts lists each phrase's absolute start on a track.
func (p *Piece) DurStarts(track int) []float64 {
	durs := make([]float64, len(p.DurArrayGrid[track]))
	for i, frac := range p.DurArrayGrid[track] {
		durs[i] = frac * p.DurTot
	}
	return trajectory.Starts(durs)
}

// TrajFromTime finds the trajectory sounding at an absolute time. Times
// before the first trajectory resolve to it; times past the end return nil.
func (p *Piece) TrajFromTime(at float64, track int) *trajectory.Trajectory {
	trajs := p.AllTrajectories(track)
	if len(trajs) == 0 {
		return nil
	}
	starts := p.TrajStartTimes(track)
	idx := -1
	for i, s := range starts {
		if at >= s {
			idx = i
		}
	}
	if idx == -1 {
		return trajs[0]
	}
	if at < starts[idx]+trajs[idx].DurTot {
		return trajs[idx]
	}
	if idx+1 < len(trajs) {
		return trajs[idx+1]
	}
	return nil
}

// TrajFromUID finds a trajectory by unique id on a track.
func (p *Piece) TrajFromUID(uid string, track int) (*trajectory.Trajectory, error) {
	for _, t := range p.AllTrajectories(track) {
		if t.UniqueID == uid {
			return t, nil
		}
	}
	return nil, errors.WithStackTrace(fmt.Errorf("trajectory %s not found", uid))
}

// PhraseFromUID finds a phrase by unique id on any track.
func (p *Piece) PhraseFromUID(uid string) (*phrase.Phrase, error) {
	for _, row := range p.PhraseGrid {
		for _, ph := range row {
			if ph.UniqueID == uid {
				return ph, nil
			}
		}
	}
	return nil, errors.WithStackTrace(fmt.Errorf("phrase %s not found", uid))
}

// PhraseIdxFromTime locates the phrase containing an absolute time.
func (p *Piece) PhraseIdxFromTime(at float64, track int) int {
	idx := 0
	for i, s := range p.DurStarts(track) {
		if at >= s {
			idx = i
		}
	}
	return idx
}

// PhraseFromTime is PhraseIdxFromTime resolved to the phrase.
func (p *Piece) PhraseFromTime(at float64, track int) *phrase.Phrase {
	return p.PhraseGrid[track][p.PhraseIdxFromTime(at, track)]
}

// MostRecentTraj is the last trajectory that has finished by the given
// time.
func (p *Piece) MostRecentTraj(at float64, track int) *trajectory.Trajectory {
	trajs := p.AllTrajectories(track)
	var best *trajectory.Trajectory
	bestEnd := math.Inf(-1)
	for _, ph := range p.PhraseGrid[track] {
		for _, t := range ph.Trajectories() {
			end := ph.StartTime + t.StartTime + t.DurTot
			if end <= at && end > bestEnd {
				bestEnd = end
				best = t
			}
		}
	}
	if best == nil && len(trajs) > 0 {
		return trajs[0]
	}
	return best
}

// ChunkedTrajs buckets a track's trajectories into fixed windows; a
// trajectory appears in every window it overlaps.
func (p *Piece) ChunkedTrajs(track int, duration float64) [][]*trajectory.Trajectory {
	trajs := p.AllTrajectories(track)
	durs := make([]float64, len(trajs))
	for i, t := range trajs {
		durs[i] = t.DurTot
	}
	starts := trajectory.Starts(durs)
	ends := trajectory.Ends(durs)
	var chunks [][]*trajectory.Trajectory
	for i := 0.0; i < p.DurTot; i += duration {
		var chunk []*trajectory.Trajectory
		for j, t := range trajs {
			startsIn := starts[j] >= i && starts[j] < i+duration
			endsIn := ends[j] > i && ends[j] <= i+duration
			spans := starts[j] < i && ends[j] > i+duration
			if startsIn || endsIn || spans {
				chunk = append(chunk, t)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// AllPitches collects a track's sounded pitches in order, optionally
// collapsing consecutive repeats of the same scale position.
func (p *Piece) AllPitches(repetition bool, track int) []*pitch.Pitch {
	var pitches []*pitch.Pitch
	for _, ph := range p.PhraseGrid[track] {
		pitches = append(pitches, ph.AllPitches(true)...)
	}
	if repetition {
		return pitches
	}
	var out []*pitch.Pitch
	for _, pt := range pitches {
		if len(out) == 0 || !pt.SameAs(out[len(out)-1]) {
			out = append(out, pt)
		}
	}
	return out
}

// AllPitchNumbers is AllPitches mapped to numbered pitches.
func (p *Piece) AllPitchNumbers(repetition bool, track int) []int {
	pitches := p.AllPitches(repetition, track)
	out := make([]int, len(pitches))
	for i, pt := range pitches {
		out[i] = pt.NumberedPitch()
	}
	return out
}

// HighestPitchNumber is the track-0 maximum numbered pitch.
func (p *Piece) HighestPitchNumber() int {
	nums := p.AllPitchNumbers(true, 0)
	out := nums[0]
	for _, n := range nums[1:] {
		if n > out {
			out = n
		}
	}
	return out
}

// LowestPitchNumber is the track-0 minimum numbered pitch.
func (p *Piece) LowestPitchNumber() int {
	nums := p.AllPitchNumbers(true, 0)
	out := nums[0]
	for _, n := range nums[1:] {
		if n < out {
			out = n
		}
	}
	return out
}

// AggregateFixedPitchDurations sums per-trajectory held-pitch durations
// across trajs. With proportional true the sums are normalized to 1.
func AggregateFixedPitchDurations(trajs []*trajectory.Trajectory, rep trajectory.Representation, proportional bool) (map[string]float64, error) {
	out := map[string]float64{}
	for _, t := range trajs {
		durs, err := t.DurationsOfFixedPitches(rep)
		if err != nil {
			return nil, err
		}
		for k, v := range durs {
			out[k] += v
		}
	}
	if proportional {
		total := 0.0
		for _, v := range out {
			total += v
		}
		if total == 0 {
			total = 1
		}
		for k := range out {
			out[k] /= total
		}
	}
	return out, nil
}

// DurationsOfFixedPitches sums held-pitch seconds across a track.
func (p *Piece) DurationsOfFixedPitches(track int, rep trajectory.Representation) (map[string]float64, error) {
	return AggregateFixedPitchDurations(p.AllTrajectories(track), rep, false)
}

// ProportionsOfFixedPitches is the normalized variant.
func (p *Piece) ProportionsOfFixedPitches(track int, rep trajectory.Representation) (map[string]float64, error) {
	return AggregateFixedPitchDurations(p.AllTrajectories(track), rep, true)
}

// ChikariFreqs returns the first two drone frequencies found on a track,
// falling back to the fundamental's octaves.
func (p *Piece) ChikariFreqs(track int) []float64 {
	for _, ph := range p.PhraseGrid[track] {
		for _, c := range ph.Chikaris {
			out := make([]float64, 0, 2)
			for _, pt := range c.Pitches {
				out = append(out, pt.Frequency())
				if len(out) == 2 {
					break
				}
			}
			return out
		}
	}
	f := p.Raga.Fundamental
	return []float64{f * 2, f * 4}
}

// SIdxFromPIdx maps a phrase index to its containing section index.
func (p *Piece) SIdxFromPIdx(pIdx, track int) int {
	ss := p.SectionStartsGrid[track]
	sIdx := len(ss) - 1
	for i, s := range ss {
		if pIdx < s {
			sIdx = i - 1
			break
		}
	}
	if sIdx < 0 {
		sIdx = 0
	}
	return sIdx
}

// SectionsGrid derives each track's sections from its start indices.
func (p *Piece) SectionsGrid() [][]*Section {
	grid := make([][]*Section, len(p.SectionStartsGrid))
	for i, starts := range p.SectionStartsGrid {
		sections := make([]*Section, 0, len(starts))
		for j, s := range starts {
			end := len(p.PhraseGrid[i])
			if j+1 < len(starts) {
				end = starts[j+1]
			}
			if s > len(p.PhraseGrid[i]) {
				s = len(p.PhraseGrid[i])
			}
			if end > len(p.PhraseGrid[i]) {
				end = len(p.PhraseGrid[i])
			}
			sections = append(sections, &Section{
				Phrases:        p.PhraseGrid[i][s:end],
				Categorization: p.SectionCatGrid[i][j],
			})
		}
		grid[i] = sections
	}
	return grid
}

// Sections is the primary track's section list.
func (p *Piece) Sections() []*Section {
	return p.SectionsGrid()[0]
}

// UpdateFundamental retunes the whole piece, including drone strikes.
func (p *Piece) UpdateFundamental(fundamental float64) {
	p.Raga.SetFundamental(fundamental)
	for _, row := range p.PhraseGrid {
		for _, ph := range row {
			for _, rowTrajs := range ph.TrajectoryGrid {
				for _, t := range rowTrajs {
					t.UpdateFundamental(fundamental)
				}
			}
			for _, c := range ph.Chikaris {
				for _, pt := range c.Pitches {
					pt.SetFundamental(fundamental)
				}
			}
		}
	}
	p.Touch()
}
