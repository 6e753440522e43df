// Package analysis computes pitch-duration statistics, segmentations, and
// melodic pattern counts over trajectory sequences.
package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/gruntwork-io/go-commons/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/robmorgan/raag/piece"
	"github.com/robmorgan/raag/pitch"
	"github.com/robmorgan/raag/trajectory"
)

// SilenceKey marks a silent span in pitch-time sequences.
const SilenceKey = "silence"

// DefaultMaxSilence is the silence-absorption window in seconds: gaps
// shorter than this merge into the preceding pitch's duration.
const DefaultMaxSilence = 5.0

// PitchTimeEntry is one pitch onset with its cumulative start time.
// Articulation is true when the pitch begins a struck trajectory.
type PitchTimeEntry struct {
	Time         float64
	Pitch        string
	Articulation bool
}

// DurationEntry is a pitch with the seconds it spans.
type DurationEntry struct {
	Dur   float64
	Pitch string
}

func representPitch(p *pitch.Pitch, rep trajectory.Representation) (string, error) {
	switch rep {
	case trajectory.RepPitchNumber, trajectory.RepChroma:
		// chroma conversion happens after de-duplication
		return strconv.Itoa(p.NumberedPitch()), nil
	case trajectory.RepSargamLetter:
		return p.SargamLetter(), nil
	case trajectory.RepOctavedSargamLetter:
		return p.OctavedSargamLetter(), nil
	case trajectory.RepScaleDegree:
		return strconv.Itoa(p.Swara), nil
	}
	return "", errors.WithStackTrace(fmt.Errorf("unrecognized representation: %s", rep))
}

func toChroma(entries []PitchTimeEntry) error {
	for i := range entries {
		if entries[i].Pitch == SilenceKey {
			continue
		}
		n, err := strconv.Atoi(entries[i].Pitch)
		if err != nil {
			return errors.WithStackTrace(err)
		}
		entries[i].Pitch = strconv.Itoa(pitch.PitchNumberToChroma(n))
	}
	return nil
}

// PitchTimes lists every pitch onset across a trajectory sequence with its
// cumulative start time. Silent trajectories contribute a single silence
// entry. Adjacent same-time duplicates are dropped, and of adjacent
// same-time different-pitch entries only the latter survives.
func PitchTimes(trajs []*trajectory.Trajectory, rep trajectory.Representation) ([]PitchTimeEntry, error) {
	var result []PitchTimeEntry
	startTime := 0.0
	for _, t := range trajs {
		_, hasArt := t.Articulations["0.00"]
		if !hasArt {
			_, hasArt = t.Articulations["0"]
		}
		if t.ID == trajectory.TypeSilent {
			result = append(result, PitchTimeEntry{Time: startTime, Pitch: SilenceKey})
			startTime += t.DurTot
			continue
		}
		for pIdx, p := range t.Pitches {
			rendered, err := representPitch(p, rep)
			if err != nil {
				return nil, err
			}
			result = append(result, PitchTimeEntry{
				Time:         startTime,
				Pitch:        rendered,
				Articulation: pIdx == 0 && hasArt,
			})
			if pIdx < len(t.Pitches)-1 {
				if pIdx >= len(t.DurArray) {
					return nil, errors.WithStackTrace(fmt.Errorf("trajectory %s durArray too short for its pitches", t.UniqueID))
				}
				startTime += t.DurArray[pIdx] * t.DurTot
			}
		}
	}

	// same time and same pitch: drop the former
	filtered := result[:0]
	for i, e := range result {
		if i < len(result)-1 {
			next := result[i+1]
			if e.Pitch == next.Pitch && e.Time == next.Time {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	result = filtered

	// same time but different pitch: keep only the latter
	var out []PitchTimeEntry
	for i, e := range result {
		if i == 0 || i == len(result)-1 || e.Time != result[i+1].Time {
			out = append(out, e)
		}
	}

	if rep == trajectory.RepChroma {
		if err := toChroma(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// durationsFromTimes converts onset times into spans, closing the last span
// at the sequence's total duration.
func durationsFromTimes(entries []PitchTimeEntry, trajs []*trajectory.Trajectory) []DurationEntry {
	endTime := 0.0
	for _, t := range trajs {
		endTime += t.DurTot
	}
	out := make([]DurationEntry, len(entries))
	for i, e := range entries {
		end := endTime
		if i+1 < len(entries) {
			end = entries[i+1].Time
		}
		out[i] = DurationEntry{Dur: end - e.Time, Pitch: e.Pitch}
	}
	return out
}

// condenseSilences folds short silent spans into the preceding pitch. A
// silence longer than maxSilence donates maxSilence seconds and keeps the
// remainder as its own entry.
func condenseSilences(durations []DurationEntry, maxSilence float64) []DurationEntry {
	var out []DurationEntry
	for i, e := range durations {
		if e.Pitch != SilenceKey || i == 0 {
			out = append(out, e)
			continue
		}
		if e.Dur < maxSilence {
			out[len(out)-1].Dur += e.Dur
		} else {
			out[len(out)-1].Dur += maxSilence
			out = append(out, DurationEntry{Dur: e.Dur - maxSilence, Pitch: SilenceKey})
		}
	}
	return out
}

func dedupeAdjacent(entries []PitchTimeEntry) []PitchTimeEntry {
	var out []PitchTimeEntry
	for i, e := range entries {
		if i == 0 || e.Pitch != entries[i-1].Pitch {
			out = append(out, e)
		}
	}
	return out
}

// CondensedDurations merges runs of one pitch into single entries with
// summed durations, absorbing silences up to maxSilence seconds. Only the
// numeric representations are supported.
func CondensedDurations(trajs []*trajectory.Trajectory, rep trajectory.Representation, maxSilence float64, excludeSilence bool) ([]DurationEntry, error) {
	if rep != trajectory.RepPitchNumber && rep != trajectory.RepChroma {
		return nil, errors.WithStackTrace(fmt.Errorf("unsupported representation for condensed durations: %s", rep))
	}
	pt, err := PitchTimes(trajs, rep)
	if err != nil {
		return nil, err
	}
	condensed := condenseSilences(durationsFromTimes(dedupeAdjacent(pt), trajs), maxSilence)
	if excludeSilence {
		kept := condensed[:0]
		for _, e := range condensed {
			if e.Pitch != SilenceKey {
				kept = append(kept, e)
			}
		}
		condensed = kept
	}
	return condensed, nil
}

// DurationsOfPitchOnsets aggregates CondensedDurations into a pitch to
// total-duration map; proportional normalizes against the kept total.
func DurationsOfPitchOnsets(trajs []*trajectory.Trajectory, rep trajectory.Representation, maxSilence float64, excludeSilence, proportional bool) (map[string]float64, error) {
	condensed, err := CondensedDurations(trajs, rep, maxSilence, excludeSilence)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	total := 0.0
	for _, e := range condensed {
		out[e.Pitch] += e.Dur
		total += e.Dur
	}
	if proportional && total > 0 {
		for k := range out {
			out[k] /= total
		}
	}
	return out, nil
}

// BoundaryType chooses which window a segment-straddling trajectory joins.
type BoundaryType string

const (
	BoundaryLeft    BoundaryType = "left"
	BoundaryRight   BoundaryType = "right"
	BoundaryRounded BoundaryType = "rounded"
)

// SegmentByDuration splits a track's trajectories into fixed windows. A
// trailing silence is excluded; straddlers are placed per boundary.
func SegmentByDuration(p *piece.Piece, duration float64, boundary BoundaryType, track int, removeEmpty bool) ([][]*trajectory.Trajectory, error) {
	if duration <= 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("segment duration must be positive: %f", duration))
	}
	numSegments := int(math.Ceil(p.DurTot / duration))
	if numSegments < 1 {
		numSegments = 1
	}
	segments := make([][]*trajectory.Trajectory, numSegments)

	trajs := p.AllTrajectories(track)
	durs := make([]float64, len(trajs))
	for i, t := range trajs {
		durs[i] = t.DurTot
	}
	starts := trajectory.Starts(durs)

	for i, t := range trajs {
		start := starts[i]
		end := start + t.DurTot
		var idx int
		switch {
		case math.Floor(start/duration) == math.Floor(end/duration):
			idx = int(math.Floor(start / duration))
		case boundary == BoundaryLeft:
			idx = int(math.Floor(start / duration))
		case boundary == BoundaryRight:
			idx = int(math.Floor(end / duration))
		default:
			idx = int(math.Floor((start + end) / 2 / duration))
		}
		if idx > numSegments-1 {
			idx = numSegments - 1
		}
		if i == len(trajs)-1 && t.ID == trajectory.TypeSilent {
			continue
		}
		segments[idx] = append(segments[idx], t)
	}

	if removeEmpty {
		kept := segments[:0]
		for _, seg := range segments {
			if len(seg) > 0 {
				kept = append(kept, seg)
			}
		}
		segments = kept
	}
	return segments, nil
}

// Pattern is one N-gram of pitches with its occurrence count.
type Pattern struct {
	Pattern []string
	Count   int
}

// PatternOptions configures PatternCounter. Size is the N-gram length;
// silences shorter than MaxLagTime are absorbed while longer ones reset the
// running window. TargetPitch, when set, keeps only patterns ending on it.
// Results come ordered by descending count unless Unsorted is set.
type PatternOptions struct {
	Size        int
	MaxLagTime  float64
	Unsorted    bool
	Rep         trajectory.Representation
	TargetPitch string
	MinCount    int
}

type patternNode struct {
	count    int
	children map[string]*patternNode
}

// PatternCounter finds recurring N-gram pitch patterns across a trajectory
// sequence.
func PatternCounter(trajs []*trajectory.Trajectory, opts PatternOptions) ([]Pattern, error) {
	size := opts.Size
	if size == 0 {
		size = 2
	}
	maxLag := opts.MaxLagTime
	if maxLag == 0 {
		maxLag = 3
	}
	rep := opts.Rep
	if rep == "" {
		rep = trajectory.RepPitchNumber
	}

	pt, err := PitchTimes(trajs, rep)
	if err != nil {
		return nil, err
	}

	// drop adjacent repeats unless the repeat is freshly articulated
	deduped := pt[:0]
	for i, e := range pt {
		if i > 0 && len(deduped) > 0 && e.Pitch == deduped[len(deduped)-1].Pitch && !e.Articulation {
			continue
		}
		deduped = append(deduped, e)
	}
	condensed := condenseSilences(durationsFromTimes(deduped, trajs), maxLag)

	root := &patternNode{children: map[string]*patternNode{}}
	var window []string
	for _, e := range condensed {
		if e.Pitch == SilenceKey {
			window = window[:0]
			continue
		}
		if len(window) < size {
			window = append(window, e.Pitch)
		} else {
			copy(window, window[1:])
			window[size-1] = e.Pitch
		}
		if len(window) != size {
			continue
		}
		node := root
		for _, p := range window {
			child, ok := node.children[p]
			if !ok {
				child = &patternNode{children: map[string]*patternNode{}}
				node.children[p] = child
			}
			node = child
		}
		node.count++
	}

	var out []Pattern
	var flatten func(node *patternNode, prefix []string)
	flatten = func(node *patternNode, prefix []string) {
		if node.count > 0 {
			out = append(out, Pattern{Pattern: append([]string(nil), prefix...), Count: node.count})
		}
		keys := maps.Keys(node.children)
		slices.Sort(keys)
		for _, k := range keys {
			flatten(node.children[k], append(prefix, k))
		}
	}
	flatten(root, nil)

	if !opts.Unsorted {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	}
	if opts.TargetPitch != "" {
		kept := out[:0]
		for _, p := range out {
			if p.Pattern[len(p.Pattern)-1] == opts.TargetPitch {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	minCount := opts.MinCount
	if minCount == 0 {
		minCount = 1
	}
	kept := out[:0]
	for _, p := range out {
		if p.Count >= minCount {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// ChromaSeqToCondensedPitchNums octave-shifts a chroma sequence so its
// spread is minimized: everything after the single largest gap in sorted
// chroma space drops an octave. Ties resolve to the first largest gap.
func ChromaSeqToCondensedPitchNums(chromaSeq []int) []int {
	if len(chromaSeq) == 0 {
		return []int{}
	}
	n := len(chromaSeq)
	sortIdxs := make([]int, n)
	for i := range sortIdxs {
		sortIdxs[i] = i
	}
	sort.SliceStable(sortIdxs, func(a, b int) bool {
		return chromaSeq[sortIdxs[a]] < chromaSeq[sortIdxs[b]]
	})
	sortedVals := make([]int, n)
	inverse := make([]int, n)
	for rank, idx := range sortIdxs {
		sortedVals[rank] = chromaSeq[idx]
		inverse[idx] = rank
	}

	maxDif := math.Inf(-1)
	maxDifIdx := 0
	for i := range sortedVals {
		var dif int
		if i == n-1 {
			dif = sortedVals[0] - (sortedVals[i] - 12)
		} else {
			dif = sortedVals[i+1] - sortedVals[i]
		}
		if float64(dif) > maxDif {
			maxDif = float64(dif)
			maxDifIdx = i
		}
	}

	shifted := make([]int, n)
	for i, v := range sortedVals {
		if i > maxDifIdx {
			shifted[i] = v - 12
		} else {
			shifted[i] = v
		}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = shifted[inverse[i]]
	}
	return out
}
