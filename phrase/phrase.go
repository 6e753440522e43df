package phrase

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/raga"
	"github.com/robmorgan/raag/trajectory"
)

// Phrase is one row of the transcription's duration hierarchy: a grid of
// trajectories, one row per instrument track, plus chikari strikes keyed by
// offset from the phrase start and group annotations per track.
type Phrase struct {
	TrajectoryGrid [][]*trajectory.Trajectory
	GroupsGrid     [][]*Group
	Chikaris       map[string]*Chikari
	DurTot         float64
	DurArray       []float64
	StartTime      float64
	PieceIdx       int
	UniqueID       string
}

// Options configures New. Trajectories is a single-track convenience;
// TrajectoryGrid wins when both are set.
type Options struct {
	Trajectories   []*trajectory.Trajectory
	TrajectoryGrid [][]*trajectory.Trajectory
	GroupsGrid     [][]*Group
	Chikaris       map[string]*Chikari
	DurTot         float64
	DurArray       []float64
	StartTime      float64
	PieceIdx       int
	UniqueID       string
}

func New(opts Options) *Phrase {
	grid := opts.TrajectoryGrid
	if grid == nil {
		grid = [][]*trajectory.Trajectory{opts.Trajectories}
	}
	groups := opts.GroupsGrid
	for len(groups) < len(grid) {
		groups = append(groups, nil)
	}
	chikaris := opts.Chikaris
	if chikaris == nil {
		chikaris = map[string]*Chikari{}
	}
	id := opts.UniqueID
	if id == "" {
		id = uuid.NewString()
	}
	p := &Phrase{
		TrajectoryGrid: grid,
		GroupsGrid:     groups,
		Chikaris:       chikaris,
		DurTot:         opts.DurTot,
		DurArray:       opts.DurArray,
		StartTime:      opts.StartTime,
		PieceIdx:       opts.PieceIdx,
		UniqueID:       id,
	}
	if p.DurTot == 0 && p.DurArray == nil {
		p.Reset()
	} else {
		p.AssignTrajNums()
		p.AssignStartTimes()
	}
	return p
}

// Trajectories is the primary track.
func (p *Phrase) Trajectories() []*trajectory.Trajectory {
	return p.TrajectoryGrid[0]
}

// TrajectoriesAt returns one track's trajectories.
func (p *Phrase) TrajectoriesAt(track int) []*trajectory.Trajectory {
	return p.TrajectoryGrid[track]
}

// AssignTrajNums stamps each trajectory with its position and the phrase's
// piece index.
func (p *Phrase) AssignTrajNums() {
	for _, row := range p.TrajectoryGrid {
		for i, t := range row {
			t.Num = i
			t.PhraseIdx = p.PieceIdx
		}
	}
}

// AssignStartTimes gives each trajectory its phrase-relative start.
func (p *Phrase) AssignStartTimes() {
	for _, row := range p.TrajectoryGrid {
		acc := 0.0
		for _, t := range row {
			t.StartTime = acc
			acc += t.DurTot
		}
	}
}

// DurTotFromTrajectories is the longest track's total duration.
func (p *Phrase) DurTotFromTrajectories() float64 {
	out := 0.0
	for _, row := range p.TrajectoryGrid {
		sum := 0.0
		for _, t := range row {
			sum += t.DurTot
		}
		if sum > out {
			out = sum
		}
	}
	return out
}

// Reset recomputes the phrase's durations from its trajectories and
// restamps positions and start times. Call after any trajectory edit.
func (p *Phrase) Reset() {
	p.AssignTrajNums()
	p.DurTot = p.DurTotFromTrajectories()
	primary := p.TrajectoryGrid[0]
	if p.DurTot == 0 || len(primary) == 0 {
		p.DurArray = nil
	} else {
		p.DurArray = make([]float64, len(primary))
		for i, t := range primary {
			p.DurArray[i] = t.DurTot / p.DurTot
		}
	}
	p.AssignStartTimes()
}

// ConsolidateSilentTrajs merges runs of consecutive silent trajectories on
// every track into single silences, then resets the phrase durations.
func (p *Phrase) ConsolidateSilentTrajs() {
	for ri, row := range p.TrajectoryGrid {
		var out []*trajectory.Trajectory
		for _, t := range row {
			last := len(out) - 1
			if t.ID == trajectory.TypeSilent && last >= 0 && out[last].ID == trajectory.TypeSilent {
				out[last].DurTot += t.DurTot
				continue
			}
			out = append(out, t)
		}
		p.TrajectoryGrid[ri] = out
	}
	p.Reset()
}

// AllPitches collects the primary track's pitches, skipping silences. With
// repetition false, consecutive identical scale positions collapse to one.
func (p *Phrase) AllPitches(repetition bool) []*pitch.Pitch {
	var pitches []*pitch.Pitch
	for _, t := range p.Trajectories() {
		if t.ID != trajectory.TypeSilent {
			pitches = append(pitches, t.Pitches...)
		}
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

// Swara lists the primary track's non-silent pitches paired with the
// trajectory times they begin at, phrase relative.
func (p *Phrase) Swara() []PitchTime {
	var out []PitchTime
	for _, t := range p.Trajectories() {
		if t.ID == trajectory.TypeSilent {
			continue
		}
		starts := trajectory.Starts(t.DurArray)
		for i, pt := range t.Pitches {
			frac := 0.0
			if i < len(starts) {
				frac = starts[i]
			} else if len(starts) > 0 {
				frac = starts[len(starts)-1]
			}
			out = append(out, PitchTime{Pitch: pt, Time: t.StartTime + frac*t.DurTot})
		}
	}
	return out
}

// PitchTime pairs a pitch with the phrase-relative time it sounds at.
type PitchTime struct {
	Pitch *pitch.Pitch
	Time  float64
}

// AddChikari registers a strike at the given offset in seconds from the
// phrase start.
func (p *Phrase) AddChikari(offset float64, c *Chikari) {
	p.Chikaris[ChikariKey(offset)] = c
}

// ChikariKey is the canonical map key for a chikari offset.
func ChikariKey(offset float64) string {
	return strconv.FormatFloat(offset, 'g', -1, 64)
}

// AddGroup validates that every member sits on the given track of this
// phrase, then registers the group.
func (p *Phrase) AddGroup(g *Group, track int) error {
	if track < 0 || track >= len(p.TrajectoryGrid) {
		return errors.WithStackTrace(fmt.Errorf("no track %d in phrase %d", track, p.PieceIdx))
	}
	row := p.TrajectoryGrid[track]
	for _, t := range g.Trajectories {
		found := false
		for _, member := range row {
			if member == t {
				found = true
				break
			}
		}
		if !found {
			return errors.WithStackTrace(fmt.Errorf("trajectory %s is not in phrase %d track %d", t.UniqueID, p.PieceIdx, track))
		}
	}
	p.GroupsGrid[track] = append(p.GroupsGrid[track], g)
	return nil
}

// Groups returns the group annotations for one track.
func (p *Phrase) Groups(track int) []*Group {
	if track < 0 || track >= len(p.GroupsGrid) {
		return nil
	}
	return p.GroupsGrid[track]
}

type groupMemberJSON struct {
	Num int `json:"num"`
}

type groupJSON struct {
	ID           string            `json:"id"`
	Trajectories []groupMemberJSON `json:"trajectories"`
}

type phraseJSON struct {
	TrajectoryGrid [][]*trajectory.Trajectory `json:"trajectoryGrid"`
	GroupsGrid     [][]groupJSON              `json:"groupsGrid"`
	Chikaris       map[string]*Chikari        `json:"chikaris"`
	DurTot         float64                    `json:"durTot"`
	DurArray       []float64                  `json:"durArray,omitempty"`
	StartTime      float64                    `json:"startTime"`
	PieceIdx       int                        `json:"pieceIdx"`
	UniqueID       string                     `json:"uniqueId"`
}

// MarshalJSON emits the stripped canonical form: groups carry only member
// positions, and no tuning context is embedded.
func (p *Phrase) MarshalJSON() ([]byte, error) {
	groups := make([][]groupJSON, len(p.GroupsGrid))
	for ri, row := range p.GroupsGrid {
		groups[ri] = make([]groupJSON, 0, len(row))
		for _, g := range row {
			gj := groupJSON{ID: g.ID}
			for _, t := range g.Trajectories {
				gj.Trajectories = append(gj.Trajectories, groupMemberJSON{Num: t.Num})
			}
			groups[ri] = append(groups[ri], gj)
		}
	}
	return json.Marshal(phraseJSON{
		TrajectoryGrid: p.TrajectoryGrid,
		GroupsGrid:     groups,
		Chikaris:       p.Chikaris,
		DurTot:         p.DurTot,
		DurArray:       p.DurArray,
		StartTime:      p.StartTime,
		PieceIdx:       p.PieceIdx,
		UniqueID:       p.UniqueID,
	})
}

type rawChikari struct {
	UniqueID string            `json:"uniqueId"`
	Pitches  []json.RawMessage `json:"pitches"`
}

type rawGroup struct {
	ID           string `json:"id"`
	Trajectories []struct {
		Num *int `json:"num"`
	} `json:"trajectories"`
}

type rawPhrase struct {
	TrajectoryGrid [][]json.RawMessage        `json:"trajectoryGrid"`
	Trajectories   []json.RawMessage          `json:"trajectories"`
	GroupsGrid     [][]rawGroup               `json:"groupsGrid"`
	Groups         []rawGroup                 `json:"groups"`
	Chikaris       map[string]json.RawMessage `json:"chikaris"`
	DurTot         *float64                   `json:"durTot"`
	DurArray       []float64                  `json:"durArray"`
	StartTime      float64                    `json:"startTime"`
	PieceIdx       int                        `json:"pieceIdx"`
	UniqueID       string                     `json:"uniqueId"`

	// legacy-only, used for tuning fallback when no caller context is given
	Raga json.RawMessage `json:"raga"`
}

// FromJSON decodes either the canonical form or a legacy form with a flat
// trajectories list, an embedded raga, and groups as full trajectory
// objects. A non-nil ctx always wins over embedded tuning.
func FromJSON(data []byte, ctx *pitch.Context) (*Phrase, error) {
	var raw rawPhrase
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}

	if ctx == nil && len(raw.Raga) > 0 && string(raw.Raga) != "null" {
		rg, err := raga.FromJSON(raw.Raga)
		if err != nil {
			return nil, err
		}
		c := rg.Context()
		ctx = &c
	}

	rawGrid := raw.TrajectoryGrid
	if rawGrid == nil {
		rawGrid = [][]json.RawMessage{raw.Trajectories}
	}
	grid := make([][]*trajectory.Trajectory, len(rawGrid))
	for ri, row := range rawGrid {
		grid[ri] = make([]*trajectory.Trajectory, 0, len(row))
		for _, tm := range row {
			t, err := trajectory.FromJSON(tm, ctx)
			if err != nil {
				return nil, err
			}
			grid[ri] = append(grid[ri], t)
		}
	}

	chikaris := map[string]*Chikari{}
	for k, cm := range raw.Chikaris {
		var rc rawChikari
		if err := json.Unmarshal(cm, &rc); err != nil {
			return nil, errors.WithStackTrace(err)
		}
		pitches := make([]*pitch.Pitch, 0, len(rc.Pitches))
		for _, pm := range rc.Pitches {
			pt, err := pitch.FromJSON(pm, ctx)
			if err != nil {
				return nil, err
			}
			pitches = append(pitches, pt)
		}
		c := &Chikari{UniqueID: rc.UniqueID, Pitches: pitches}
		if c.UniqueID == "" {
			c.UniqueID = uuid.NewString()
		}
		chikaris[k] = c
	}

	durTot := 0.0
	if raw.DurTot != nil {
		durTot = *raw.DurTot
	}
	p := New(Options{
		TrajectoryGrid: grid,
		Chikaris:       chikaris,
		DurTot:         durTot,
		DurArray:       raw.DurArray,
		StartTime:      raw.StartTime,
		PieceIdx:       raw.PieceIdx,
		UniqueID:       raw.UniqueID,
	})

	rawGroups := raw.GroupsGrid
	if rawGroups == nil && raw.Groups != nil {
		rawGroups = [][]rawGroup{raw.Groups}
	}
	for ri, row := range rawGroups {
		if ri >= len(p.TrajectoryGrid) {
			break
		}
		for _, rg := range row {
			var members []*trajectory.Trajectory
			for _, m := range rg.Trajectories {
				if m.Num == nil {
					continue
				}
				if *m.Num >= 0 && *m.Num < len(p.TrajectoryGrid[ri]) {
					members = append(members, p.TrajectoryGrid[ri][*m.Num])
				}
			}
			g, err := NewGroup(members, rg.ID)
			if err != nil {
				return nil, err
			}
			if err := p.AddGroup(g, ri); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}
