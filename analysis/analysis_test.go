package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robmorgan/raag/phrase"
	"github.com/robmorgan/raag/piece"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/trajectory"
)

func fixedT(t *testing.T, swara, oct int, dur float64) *trajectory.Trajectory {
	t.Helper()
	tr, err := trajectory.New(trajectory.Options{
		ID:      trajectory.TypeFixed,
		Pitches: []*pitch.Pitch{pitch.MustNew(pitch.Options{Swara: swara, Oct: oct})},
		DurTot:  dur,
	})
	require.NoError(t, err)
	return tr
}

func silentT(t *testing.T, dur float64) *trajectory.Trajectory {
	t.Helper()
	tr, err := trajectory.New(trajectory.Options{ID: trajectory.TypeSilent, DurTot: dur})
	require.NoError(t, err)
	return tr
}

func bendT(t *testing.T, swara1, swara2 int, dur float64) *trajectory.Trajectory {
	t.Helper()
	tr, err := trajectory.New(trajectory.Options{
		ID: trajectory.TypeSimpleBend,
		Pitches: []*pitch.Pitch{
			pitch.MustNew(pitch.Options{Swara: swara1}),
			pitch.MustNew(pitch.Options{Swara: swara2}),
		},
		DurTot: dur,
	})
	require.NoError(t, err)
	return tr
}

func TestPitchTimesSingleFixed(t *testing.T) {
	t.Parallel()

	entries, err := PitchTimes([]*trajectory.Trajectory{fixedT(t, 0, 0, 2)}, trajectory.RepPitchNumber)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 0.0, entries[0].Time, 1e-9)
	assert.Equal(t, "0", entries[0].Pitch)
	assert.True(t, entries[0].Articulation)
}

func TestPitchTimesSilence(t *testing.T) {
	t.Parallel()

	entries, err := PitchTimes([]*trajectory.Trajectory{silentT(t, 3)}, trajectory.RepPitchNumber)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SilenceKey, entries[0].Pitch)
	assert.False(t, entries[0].Articulation)
}

func TestPitchTimesSilenceThenFixed(t *testing.T) {
	t.Parallel()

	entries, err := PitchTimes([]*trajectory.Trajectory{silentT(t, 2), fixedT(t, 1, 0, 1)}, trajectory.RepPitchNumber)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, SilenceKey, entries[0].Pitch)
	assert.InDelta(t, 2.0, entries[1].Time, 1e-9)
	assert.Equal(t, "2", entries[1].Pitch)
}

func TestPitchTimesBend(t *testing.T) {
	t.Parallel()

	// bends carry a single-segment duration partition, so the second pitch
	// lands at the trajectory's end
	entries, err := PitchTimes([]*trajectory.Trajectory{bendT(t, 0, 1, 4)}, trajectory.RepPitchNumber)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.InDelta(t, 0.0, entries[0].Time, 1e-9)
	assert.InDelta(t, 4.0, entries[1].Time, 1e-9)
	assert.Equal(t, "2", entries[1].Pitch)
}

func TestPitchTimesDuplicateFiltered(t *testing.T) {
	t.Parallel()

	entries, err := PitchTimes([]*trajectory.Trajectory{fixedT(t, 0, 0, 1), fixedT(t, 0, 0, 1)}, trajectory.RepPitchNumber)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPitchTimesSameTimeKeepsLatter(t *testing.T) {
	t.Parallel()

	trajs := []*trajectory.Trajectory{bendT(t, 0, 1, 2), fixedT(t, 2, 0, 1), fixedT(t, 4, 0, 1)}
	entries, err := PitchTimes(trajs, trajectory.RepPitchNumber)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0", entries[0].Pitch)
	assert.Equal(t, "7", entries[1].Pitch)
	assert.InDelta(t, 2.0, entries[1].Time, 1e-9)
}

func TestPitchTimesRepresentations(t *testing.T) {
	t.Parallel()

	paUp := []*trajectory.Trajectory{fixedT(t, 4, 1, 1)}

	entries, err := PitchTimes(paUp, trajectory.RepChroma)
	require.NoError(t, err)
	assert.Equal(t, "7", entries[0].Pitch)

	entries, err = PitchTimes(paUp, trajectory.RepSargamLetter)
	require.NoError(t, err)
	assert.Equal(t, "P", entries[0].Pitch)

	entries, err = PitchTimes(paUp, trajectory.RepScaleDegree)
	require.NoError(t, err)
	assert.Equal(t, "4", entries[0].Pitch)

	_, err = PitchTimes(paUp, trajectory.Representation("nope"))
	require.Error(t, err)
}

func TestCondensedDurationsSinglePitch(t *testing.T) {
	t.Parallel()

	out, err := CondensedDurations([]*trajectory.Trajectory{fixedT(t, 0, 0, 3)}, trajectory.RepPitchNumber, DefaultMaxSilence, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0", out[0].Pitch)
	assert.InDelta(t, 3.0, out[0].Dur, 1e-9)
}

func TestCondensedDurationsRejectsLetterReps(t *testing.T) {
	t.Parallel()

	_, err := CondensedDurations([]*trajectory.Trajectory{fixedT(t, 0, 0, 1)}, trajectory.RepSargamLetter, DefaultMaxSilence, false)
	require.Error(t, err)
}

func TestCondensedDurationsShortSilenceAbsorbed(t *testing.T) {
	t.Parallel()

	trajs := []*trajectory.Trajectory{fixedT(t, 0, 0, 2), silentT(t, 1), fixedT(t, 1, 0, 2)}
	out, err := CondensedDurations(trajs, trajectory.RepPitchNumber, 5, false)
	require.NoError(t, err)

	total := 0.0
	for _, e := range out {
		assert.NotEqual(t, SilenceKey, e.Pitch)
		total += e.Dur
	}
	assert.InDelta(t, 5.0, total, 1e-9)
}

func TestCondensedDurationsLongSilenceSplit(t *testing.T) {
	t.Parallel()

	trajs := []*trajectory.Trajectory{
		silentT(t, 2),
		bendT(t, 0, 1, 2),
		silentT(t, 10),
		bendT(t, 2, 3, 2),
	}
	out, err := CondensedDurations(trajs, trajectory.RepPitchNumber, 3, false)
	require.NoError(t, err)

	// leading silence survives, the long one donates 3s and keeps 7
	require.GreaterOrEqual(t, len(out), 4)
	assert.Equal(t, SilenceKey, out[0].Pitch)
	assert.InDelta(t, 2.0, out[0].Dur, 1e-9)
	assert.Equal(t, "0", out[1].Pitch)
	assert.InDelta(t, 5.0, out[1].Dur, 1e-9)
	assert.Equal(t, SilenceKey, out[2].Pitch)
	assert.InDelta(t, 7.0, out[2].Dur, 1e-9)

	trimmed, err := CondensedDurations(trajs, trajectory.RepPitchNumber, 3, true)
	require.NoError(t, err)
	for _, e := range trimmed {
		assert.NotEqual(t, SilenceKey, e.Pitch)
	}
}

func TestDurationsOfPitchOnsets(t *testing.T) {
	t.Parallel()

	out, err := DurationsOfPitchOnsets([]*trajectory.Trajectory{fixedT(t, 0, 0, 5)}, trajectory.RepPitchNumber, DefaultMaxSilence, true, false)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, out["0"], 1e-9)

	props, err := DurationsOfPitchOnsets([]*trajectory.Trajectory{fixedT(t, 0, 0, 5)}, trajectory.RepPitchNumber, DefaultMaxSilence, true, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, props["0"], 1e-9)

	// repeated occurrences of one pitch aggregate
	trajs := []*trajectory.Trajectory{fixedT(t, 0, 0, 2), silentT(t, 1), fixedT(t, 0, 0, 3)}
	out, err = DurationsOfPitchOnsets(trajs, trajectory.RepPitchNumber, DefaultMaxSilence, true, false)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, out["0"], 1e-9)
}

func TestSegmentByDuration(t *testing.T) {
	t.Parallel()

	p := piece.New(piece.Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{
			fixedT(t, 0, 0, 5),
			fixedT(t, 1, 0, 5),
			fixedT(t, 2, 0, 5),
			fixedT(t, 3, 0, 5),
			fixedT(t, 4, 0, 5),
			silentT(t, 5),
		}}),
	}})

	segments, err := SegmentByDuration(p, 10, BoundaryLeft, 0, false)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Len(t, segments[0], 2)
	assert.Len(t, segments[1], 2)
	// the trailing silence is excluded
	assert.Len(t, segments[2], 1)

	_, err = SegmentByDuration(p, 0, BoundaryLeft, 0, false)
	require.Error(t, err)
}

func TestSegmentByDurationBoundaries(t *testing.T) {
	t.Parallel()

	p := piece.New(piece.Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{
			fixedT(t, 0, 0, 6),
			fixedT(t, 1, 0, 6),
		}}),
	}})

	// the second trajectory spans 6..12 across the 8s boundary
	left, err := SegmentByDuration(p, 8, BoundaryLeft, 0, false)
	require.NoError(t, err)
	assert.Len(t, left[0], 2)
	assert.Len(t, left[1], 0)

	right, err := SegmentByDuration(p, 8, BoundaryRight, 0, false)
	require.NoError(t, err)
	assert.Len(t, right[0], 1)
	assert.Len(t, right[1], 1)

	// midpoint 9 falls in the second window
	rounded, err := SegmentByDuration(p, 8, BoundaryRounded, 0, false)
	require.NoError(t, err)
	assert.Len(t, rounded[1], 1)
}

func TestSegmentByDurationRemoveEmpty(t *testing.T) {
	t.Parallel()

	p := piece.New(piece.Options{Phrases: []*phrase.Phrase{
		phrase.New(phrase.Options{Trajectories: []*trajectory.Trajectory{
			fixedT(t, 0, 0, 2),
			silentT(t, 6),
		}}),
	}})

	segments, err := SegmentByDuration(p, 4, BoundaryLeft, 0, true)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Len(t, segments[0], 1)
}

func patternTrajs(t *testing.T) []*trajectory.Trajectory {
	t.Helper()
	return []*trajectory.Trajectory{
		fixedT(t, 0, 0, 1), bendT(t, 1, 2, 2), silentT(t, 0.5),
		fixedT(t, 0, 0, 1), bendT(t, 1, 2, 2), silentT(t, 0.5),
		fixedT(t, 0, 0, 1), bendT(t, 1, 2, 2),
	}
}

func TestPatternCounter(t *testing.T) {
	t.Parallel()

	patterns, err := PatternCounter(patternTrajs(t), PatternOptions{Size: 2})
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	// count-sorted by default; the short silences absorb, so Re repeats
	// across phrase boundaries
	assert.Equal(t, []string{"2", "2"}, patterns[0].Pattern)
	assert.Equal(t, 2, patterns[0].Count)
	for i := 1; i < len(patterns); i++ {
		assert.LessOrEqual(t, patterns[i].Count, patterns[i-1].Count)
	}

	// Unsorted leaves the lexicographic trie order
	unsorted, err := PatternCounter(patternTrajs(t), PatternOptions{Size: 2, Unsorted: true})
	require.NoError(t, err)
	require.NotEmpty(t, unsorted)
	assert.Equal(t, []string{"0", "2"}, unsorted[0].Pattern)
}

func TestPatternCounterMinCount(t *testing.T) {
	t.Parallel()

	patterns, err := PatternCounter(patternTrajs(t), PatternOptions{Size: 2, MinCount: 2})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"2", "2"}, patterns[0].Pattern)
}

func TestPatternCounterTargetPitch(t *testing.T) {
	t.Parallel()

	patterns, err := PatternCounter(patternTrajs(t), PatternOptions{Size: 2, TargetPitch: "4"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"2", "4"}, patterns[0].Pattern)
}

func TestPatternCounterSilenceResets(t *testing.T) {
	t.Parallel()

	// a silence past the lag window breaks the running N-gram
	trajs := []*trajectory.Trajectory{
		silentT(t, 1), bendT(t, 0, 1, 2),
		silentT(t, 10),
		silentT(t, 1), bendT(t, 2, 3, 2),
	}
	patterns, err := PatternCounter(trajs, PatternOptions{Size: 2, MaxLagTime: 3})
	require.NoError(t, err)
	for _, p := range patterns {
		assert.NotEqual(t, []string{"2", "4"}, p.Pattern)
	}
}

func TestChromaSeqToCondensedPitchNums(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{0, -1}, ChromaSeqToCondensedPitchNums([]int{0, 11}))
	assert.Equal(t, []int{-1, 0}, ChromaSeqToCondensedPitchNums([]int{11, 0}))

	// a tight cluster stays where it is
	assert.Equal(t, []int{0, 1, 2}, ChromaSeqToCondensedPitchNums([]int{0, 1, 2}))

	// ties resolve to the first largest gap
	assert.Equal(t, []int{0, -6}, ChromaSeqToCondensedPitchNums([]int{0, 6}))

	assert.Equal(t, []int{5}, ChromaSeqToCondensedPitchNums([]int{5}))
	assert.Empty(t, ChromaSeqToCondensedPitchNums(nil))
}
