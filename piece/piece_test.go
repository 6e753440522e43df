package piece

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/robmorgan/raag/meter"
	"github.com/robmorgan/raag/phrase"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/trajectory"
)

func fixedTraj(t *testing.T, swara, oct int, durTot float64) *trajectory.Trajectory {
	t.Helper()
	tr, err := trajectory.New(trajectory.Options{
		ID:      trajectory.TypeFixed,
		Pitches: []*pitch.Pitch{pitch.MustNew(pitch.Options{Swara: swara, Oct: oct})},
		DurTot:  durTot,
	})
	require.NoError(t, err)
	return tr
}

func singlePhrasePiece(t *testing.T, trajs ...*trajectory.Trajectory) *Piece {
	t.Helper()
	return New(Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: trajs}),
	}})
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(Options{})
	assert.Equal(t, "untitled", p.Title)
	assert.Equal(t, "Santa Cruz", p.Location)
	assert.Equal(t, "Yaman", p.Raga.Name)
	assert.Equal(t, []trajectory.Instrument{trajectory.InstrumentSitar}, p.Instrumentation)
	assert.Equal(t, [][]int{{0}}, p.SectionStartsGrid)
	assert.NotEmpty(t, p.UniqueID)
	assert.False(t, p.DateCreated.IsZero())
}

func TestDurationPipeline(t *testing.T) {
	t.Parallel()

	p := New(Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 0, 0, 3)}}),
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 1, 0, 1)}}),
	}})

	assert.InDelta(t, 4.0, p.DurTot, 1e-9)
	require.Len(t, p.DurArrayGrid, 1)
	assert.InDelta(t, 0.75, p.DurArrayGrid[0][0], 1e-9)
	assert.InDelta(t, 0.25, p.DurArrayGrid[0][1], 1e-9)

	// phrase durations sum to the piece total
	sum := 0.0
	for _, ph := range p.Phrases(0) {
		sum += ph.DurTot
	}
	assert.InDelta(t, p.DurTot, sum, 1e-9)

	assert.InDelta(t, 0.0, p.Phrases(0)[0].StartTime, 1e-9)
	assert.InDelta(t, 3.0, p.Phrases(0)[1].StartTime, 1e-9)
	assert.Equal(t, 1, p.Phrases(0)[1].PieceIdx)
}

func TestShortTracksPaddedWithSilence(t *testing.T) {
	t.Parallel()

	p := New(Options{
		Instrumentation: []trajectory.Instrument{trajectory.InstrumentSitar, trajectory.InstrumentSitar},
		PhraseGrid: [][]*phrase.Phrase{
			{phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 0, 0, 10)}})},
			{phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 1, 0, 4)}})},
		},
	})

	assert.InDelta(t, 10.0, p.DurTot, 1e-9)
	trajs := p.AllTrajectories(1)
	require.Len(t, trajs, 2)
	assert.Equal(t, trajectory.TypeSilent, trajs[1].ID)
	assert.InDelta(t, 6.0, trajs[1].DurTot, 1e-9)

	sum := 0.0
	for _, ph := range p.Phrases(1) {
		sum += ph.DurTot
	}
	assert.InDelta(t, p.DurTot, sum, 1e-9)
}

func TestFillRemainingDuration(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 45))
	p.FillRemainingDuration(60, 0)

	assert.InDelta(t, 60.0, p.DurTot, 1e-9)
	trajs := p.AllTrajectories(0)
	require.Len(t, trajs, 2)
	assert.Equal(t, trajectory.TypeSilent, trajs[1].ID)
	assert.InDelta(t, 15.0, trajs[1].DurTot, 1e-9)
	assert.InDelta(t, p.Raga.Fundamental, trajs[1].FundID12, 1e-9)

	// at or below the current length nothing changes
	p.FillRemainingDuration(30, 0)
	assert.InDelta(t, 60.0, p.DurTot, 1e-9)
	assert.Len(t, p.AllTrajectories(0), 2)
}

func TestSetDurTot(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 45))
	require.Error(t, p.SetDurTot(30))

	require.NoError(t, p.SetDurTot(60))
	assert.InDelta(t, 60.0, p.DurTot, 1e-9)

	// a second extension grows the trailing silence instead of adding one
	require.NoError(t, p.SetDurTot(70))
	trajs := p.AllTrajectories(0)
	require.Len(t, trajs, 2)
	assert.InDelta(t, 25.0, trajs[1].DurTot, 1e-9)
}

func TestAddTrajectory(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 10), trajectory.MustNew(trajectory.Options{
		ID:     trajectory.TypeSilent,
		DurTot: 20,
	}))

	// inside a sounding trajectory there is no room
	assert.False(t, p.AddTrajectory(fixedTraj(t, 1, 0, 5), 5, 0))

	// too long for the silent filler
	assert.False(t, p.AddTrajectory(fixedTraj(t, 1, 0, 50), 15, 0))

	added := fixedTraj(t, 1, 0, 5)
	require.True(t, p.AddTrajectory(added, 15, 0))

	trajs := p.AllTrajectories(0)
	require.Len(t, trajs, 4)
	assert.Equal(t, trajectory.TypeSilent, trajs[1].ID)
	assert.InDelta(t, 5.0, trajs[1].DurTot, 1e-9)
	assert.Equal(t, added, trajs[2])
	assert.Equal(t, trajectory.TypeSilent, trajs[3].ID)
	assert.InDelta(t, 10.0, trajs[3].DurTot, 1e-9)
	assert.InDelta(t, 30.0, p.DurTot, 1e-9)

	// the placed trajectory really starts at the requested instant
	assert.Equal(t, added, p.TrajFromTime(15, 0))
	assert.InDelta(t, 15.0, p.TrajStartTimes(0)[2], 1e-9)
}

func TestAddTrajectoryFlushWithFillerStart(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 10), trajectory.MustNew(trajectory.Options{
		ID:     trajectory.TypeSilent,
		DurTot: 20,
	}))
	require.True(t, p.AddTrajectory(fixedTraj(t, 1, 0, 20), 10, 0))

	// the filler is fully consumed
	trajs := p.AllTrajectories(0)
	require.Len(t, trajs, 2)
	assert.Equal(t, trajectory.TypeFixed, trajs[1].ID)
}

func TestAddMeter(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 20))
	first := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60})
	require.NoError(t, p.AddMeter(first))

	// overlap checks run against the full repetition span
	overlapping := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60, StartTime: 2})
	require.Error(t, p.AddMeter(overlapping))

	covering := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60, StartTime: -1, Repetitions: 2})
	require.Error(t, p.AddMeter(covering))

	adjacent := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60, StartTime: 4})
	require.NoError(t, p.AddMeter(adjacent))
	assert.Len(t, p.Meters, 2)

	pulse := adjacent.AllPulses()[0]
	assert.Equal(t, pulse, p.PulseFromID(pulse.UniqueID))
	assert.Nil(t, p.PulseFromID("nope"))

	p.RemoveMeter(first)
	assert.Equal(t, []*meter.Meter{adjacent}, p.Meters)
}

func TestTrajFromTime(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 10), trajectory.MustNew(trajectory.Options{
		ID:     trajectory.TypeSilent,
		DurTot: 20,
	}))
	trajs := p.AllTrajectories(0)

	assert.Equal(t, trajs[0], p.TrajFromTime(-1, 0))
	assert.Equal(t, trajs[0], p.TrajFromTime(5, 0))
	assert.Equal(t, trajs[1], p.TrajFromTime(10, 0))
	assert.Equal(t, trajs[1], p.TrajFromTime(29.9, 0))
	assert.Nil(t, p.TrajFromTime(30, 0))
}

func TestLookups(t *testing.T) {
	t.Parallel()

	p := New(Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 0, 0, 10)}}),
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 1, 0, 10)}}),
	}})

	assert.Equal(t, 0, p.PhraseIdxFromTime(5, 0))
	assert.Equal(t, 1, p.PhraseIdxFromTime(10, 0))
	assert.Equal(t, p.Phrases(0)[1], p.PhraseFromTime(15, 0))

	trajs := p.AllTrajectories(0)
	got, err := p.TrajFromUID(trajs[1].UniqueID, 0)
	require.NoError(t, err)
	assert.Equal(t, trajs[1], got)
	_, err = p.TrajFromUID("nope", 0)
	require.Error(t, err)

	ph, err := p.PhraseFromUID(p.Phrases(0)[0].UniqueID)
	require.NoError(t, err)
	assert.Equal(t, p.Phrases(0)[0], ph)
	_, err = p.PhraseFromUID("nope")
	require.Error(t, err)

	// nothing has ended yet at t=5, fall back to the opening trajectory
	assert.Equal(t, trajs[0], p.MostRecentTraj(5, 0))
	assert.Equal(t, trajs[0], p.MostRecentTraj(15, 0))
	assert.Equal(t, trajs[1], p.MostRecentTraj(20, 0))
}

func TestChunkedTrajs(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 10), trajectory.MustNew(trajectory.Options{
		ID:     trajectory.TypeSilent,
		DurTot: 20,
	}))
	trajs := p.AllTrajectories(0)

	chunks := p.ChunkedTrajs(0, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, []*trajectory.Trajectory{trajs[0], trajs[1]}, chunks[0])
	assert.Equal(t, []*trajectory.Trajectory{trajs[1]}, chunks[1])
	assert.Equal(t, []*trajectory.Trajectory{trajs[1]}, chunks[2])
}

func TestChunkedMeters(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 30))
	early := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60})
	late := meter.MustNew(meter.Options{Hierarchy: []int{4}, Tempo: 60, StartTime: 12})
	require.NoError(t, p.AddMeter(early))
	require.NoError(t, p.AddMeter(late))

	chunks := p.ChunkedMeters(10)
	require.Len(t, chunks, 3)
	assert.Equal(t, []*meter.Meter{early}, chunks[0])
	assert.Equal(t, []*meter.Meter{late}, chunks[1])
	assert.Empty(t, chunks[2])
}

func TestPitchQueries(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t,
		fixedTraj(t, 0, 0, 1),
		fixedTraj(t, 0, 0, 1),
		fixedTraj(t, 4, 1, 1),
	)

	assert.Equal(t, []int{0, 0, 19}, p.AllPitchNumbers(true, 0))
	assert.Equal(t, []int{0, 19}, p.AllPitchNumbers(false, 0))
	assert.Equal(t, 19, p.HighestPitchNumber())
	assert.Equal(t, 0, p.LowestPitchNumber())
}

func TestFixedPitchDurations(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t,
		fixedTraj(t, 0, 0, 3),
		fixedTraj(t, 1, 0, 1),
	)

	durs, err := p.DurationsOfFixedPitches(0, trajectory.RepPitchNumber)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, durs["0"], 1e-9)
	assert.InDelta(t, 1.0, durs["2"], 1e-9)

	props, err := p.ProportionsOfFixedPitches(0, trajectory.RepPitchNumber)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, props["0"], 1e-9)
	assert.InDelta(t, 0.25, props["2"], 1e-9)
}

func TestChikariFreqs(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 4))
	f := p.Raga.Fundamental
	assert.InDelta(t, f*2, p.ChikariFreqs(0)[0], 1e-9)
	assert.InDelta(t, f*4, p.ChikariFreqs(0)[1], 1e-9)

	ctx := p.Raga.Context()
	p.Phrases(0)[0].AddChikari(1, phrase.NewChikari(nil, &ctx))
	freqs := p.ChikariFreqs(0)
	require.Len(t, freqs, 2)
	assert.InDelta(t, f*2, freqs[0], 1e-9)
}

func TestSections(t *testing.T) {
	t.Parallel()

	phrases := make([]*phrase.Phrase, 4)
	for i := range phrases {
		phrases[i] = phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, i, 0, 1)}})
	}
	p := New(Options{Phrases: phrases, SectionStarts: []int{2, 0, 2}})

	assert.Equal(t, []int{0, 2}, p.SectionStarts(0))
	assert.Equal(t, 0, p.SIdxFromPIdx(1, 0))
	assert.Equal(t, 1, p.SIdxFromPIdx(2, 0))
	assert.Equal(t, 1, p.SIdxFromPIdx(3, 0))

	sections := p.Sections()
	require.Len(t, sections, 2)
	assert.Len(t, sections[0].Phrases, 2)
	assert.Len(t, sections[1].Phrases, 2)
	assert.Len(t, sections[0].AllTrajectories(), 2)
	assert.Len(t, sections[1].AllPitches(true), 2)
	assert.Equal(t, "None", sections[0].Categorization.TopLevel)
}

func TestSectionCategorizationCleanUp(t *testing.T) {
	t.Parallel()

	c := &SectionCategorization{Alap: map[string]bool{"Jor": true}}
	c.CleanUp()
	assert.Equal(t, "Alap", c.TopLevel)
	assert.NotNil(t, c.Tala)

	c = &SectionCategorization{CompSectionTempo: map[string]bool{"Vilambit": true}}
	c.CleanUp()
	assert.Equal(t, "Composition", c.TopLevel)

	c = &SectionCategorization{}
	c.CleanUp()
	assert.Equal(t, "None", c.TopLevel)
}

func TestSectionCategorizationLegacyKey(t *testing.T) {
	t.Parallel()

	var c SectionCategorization
	require.NoError(t, json.Unmarshal([]byte(`{"Composition-section/Tempo":{"Drut":true}}`), &c))
	assert.True(t, c.CompSectionTempo["Drut"])
	assert.Equal(t, "Composition", c.TopLevel)
}

func TestUpdateFundamental(t *testing.T) {
	t.Parallel()

	p := singlePhrasePiece(t, fixedTraj(t, 0, 0, 4))
	ctx := p.Raga.Context()
	p.Phrases(0)[0].AddChikari(1, phrase.NewChikari(nil, &ctx))

	p.UpdateFundamental(240)
	assert.InDelta(t, 240.0, p.Raga.Fundamental, 1e-9)
	assert.InDelta(t, 240.0, p.AllTrajectories(0)[0].Freqs()[0], 1e-9)
	assert.InDelta(t, 480.0, p.ChikariFreqs(0)[0], 1e-9)
}

func TestTouchUsesClock(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakePassiveClock(t0)
	p := New(Options{Clock: clk})
	assert.Equal(t, t0, p.DateCreated)

	t1 := t0.Add(time.Hour)
	clk.SetTime(t1)
	p.Touch()
	assert.Equal(t, t1, p.DateModified)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := New(Options{
		Title:   "Test Piece",
		Soloist: "Anonymous",
		AudioID: "abc123",
		Phrases: []*phrase.Phrase{
			phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{
				fixedTraj(t, 0, 0, 10),
				trajectory.MustNew(trajectory.Options{ID: trajectory.TypeSilent, DurTot: 5}),
			}}),
			phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{fixedTraj(t, 1, 0, 5)}}),
		},
		Meters:       []*meter.Meter{meter.MustNew(meter.Options{Hierarchy: []int{4, 4}, Tempo: 240})},
		DateCreated:  stamp,
		DateModified: stamp,
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, p.UniqueID, back.UniqueID)
	assert.Equal(t, p.Title, back.Title)
	assert.Equal(t, p.Soloist, back.Soloist)
	assert.Equal(t, p.DateCreated, back.DateCreated)
	assert.InDelta(t, p.DurTot, back.DurTot, 1e-9)
	require.Len(t, back.Phrases(0), 2)
	require.Len(t, back.Meters, 1)
	assert.Equal(t, p.Meters[0].UniqueID, back.Meters[0].UniqueID)

	// the serialized form is a fixed point
	again, err := json.Marshal(back)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestFromJSONLegacyDocument(t *testing.T) {
	t.Parallel()

	legacy := []byte(`{
		"title": "Old Recording",
		"dateCreated": {"$date": "2021-05-01T12:00:00.000Z"},
		"dateModified": "2021-06-01T09:30:00",
		"raga": {"name": "Yaman", "fundamental": 220, "ruleSet": {"sa": true, "pa": true}},
		"phrases": [
			{"trajectories": [
				{"id": 0, "pitches": [{"swara": 0, "oct": 0, "raised": true}], "durTot": 2},
				{"id": 12, "durTot": 1},
				{"id": 12, "durTot": 1}
			]}
		],
		"sectionStarts": [0, 0],
		"sectionCategorization": [{"Composition-section/Tempo": {"Vilambit": true}}]
	}`)

	p, err := FromJSON(legacy)
	require.NoError(t, err)
	assert.Equal(t, "Old Recording", p.Title)
	assert.Equal(t, 2021, p.DateCreated.Year())
	assert.Equal(t, time.June, p.DateModified.Month())
	assert.InDelta(t, 220.0, p.Raga.Fundamental, 1e-9)

	// adjacent silences consolidate on load
	trajs := p.AllTrajectories(0)
	require.Len(t, trajs, 2)
	assert.InDelta(t, 2.0, trajs[1].DurTot, 1e-9)
	assert.InDelta(t, 4.0, p.DurTot, 1e-9)

	// duplicate section starts collapse, legacy categorization key is accepted
	assert.Equal(t, []int{0}, p.SectionStarts(0))
	assert.True(t, p.SectionCatGrid[0][0].CompSectionTempo["Vilambit"])

	// embedded tuning reaches the trajectory pitches
	assert.InDelta(t, 220.0, trajs[0].Freqs()[0], 1e-9)
}
