package phrase

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/trajectory"
)

// Group ties two or more index-adjacent trajectories of one phrase together
// as a single unit of annotation.
type Group struct {
	ID           string
	Trajectories []*trajectory.Trajectory
}

// NewGroup validates adjacency and stamps the group id onto its members.
// Passing an empty id generates one.
func NewGroup(trajs []*trajectory.Trajectory, id string) (*Group, error) {
	if id == "" {
		id = uuid.NewString()
	}
	g := &Group{ID: id, Trajectories: trajs}
	if err := g.sortByNum(); err != nil {
		return nil, err
	}
	if len(g.Trajectories) < 2 {
		return nil, errors.WithStackTrace(fmt.Errorf("group must have at least 2 trajectories, got %d", len(g.Trajectories)))
	}
	if !g.adjacent() {
		return nil, errors.WithStackTrace(fmt.Errorf("group trajectories are not adjacent"))
	}
	for _, t := range g.Trajectories {
		t.GroupID = g.ID
	}
	return g, nil
}

func (g *Group) sortByNum() error {
	for _, t := range g.Trajectories {
		if t.Num < 0 {
			return errors.WithStackTrace(fmt.Errorf("trajectory %s has no phrase position", t.UniqueID))
		}
	}
	sort.Slice(g.Trajectories, func(i, j int) bool {
		return g.Trajectories[i].Num < g.Trajectories[j].Num
	})
	return nil
}

// adjacent requires all members in one phrase at consecutive positions.
func (g *Group) adjacent() bool {
	if len(g.Trajectories) == 0 {
		return false
	}
	phraseIdx := g.Trajectories[0].PhraseIdx
	for i, t := range g.Trajectories {
		if t.PhraseIdx != phraseIdx {
			return false
		}
		if i > 0 && t.Num != g.Trajectories[i-1].Num+1 {
			return false
		}
	}
	return true
}

// AddTraj extends the group, re-validating adjacency.
func (g *Group) AddTraj(t *trajectory.Trajectory) error {
	g.Trajectories = append(g.Trajectories, t)
	if err := g.sortByNum(); err != nil {
		g.Trajectories = g.Trajectories[:len(g.Trajectories)-1]
		return err
	}
	if !g.adjacent() {
		g.remove(t)
		return errors.WithStackTrace(fmt.Errorf("trajectory %s is not adjacent to group %s", t.UniqueID, g.ID))
	}
	t.GroupID = g.ID
	return nil
}

func (g *Group) remove(t *trajectory.Trajectory) {
	for i, member := range g.Trajectories {
		if member == t {
			g.Trajectories = append(g.Trajectories[:i], g.Trajectories[i+1:]...)
			return
		}
	}
}

// MinFreq is the lowest frequency across members.
func (g *Group) MinFreq() float64 {
	out := g.Trajectories[0].MinFreq()
	for _, t := range g.Trajectories[1:] {
		if f := t.MinFreq(); f < out {
			out = f
		}
	}
	return out
}

// MaxFreq is the highest frequency across members.
func (g *Group) MaxFreq() float64 {
	out := g.Trajectories[0].MaxFreq()
	for _, t := range g.Trajectories[1:] {
		if f := t.MaxFreq(); f > out {
			out = f
		}
	}
	return out
}

// AllPitches collects member pitches, skipping silences. With repetition
// false, consecutive identical scale positions collapse to one.
func (g *Group) AllPitches(repetition bool) []*pitch.Pitch {
	var pitches []*pitch.Pitch
	for _, t := range g.Trajectories {
		if t.ID != trajectory.TypeSilent {
			pitches = append(pitches, t.Pitches...)
		}
	}
	if repetition {
		return pitches
	}
	var out []*pitch.Pitch
	for _, p := range pitches {
		if len(out) == 0 || !p.SameAs(out[len(out)-1]) {
			out = append(out, p)
		}
	}
	return out
}
