package meter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gruntwork-io/go-commons/errors"
)

var levelNames = []string{"Beat", "Subdivision", "Sub-subdivision", "Sub-sub-subdivision"}

// MusicalTime is a read-only metric position: which cycle, the pulse index
// at each hierarchy level down to the queried reference level, and how far
// through the final pulse interval the instant falls.
type MusicalTime struct {
	CycleNumber          int
	HierarchicalPosition []int
	FractionalBeat       float64
}

// NewMusicalTime validates the position fields.
func NewMusicalTime(cycleNumber int, hierarchicalPosition []int, fractionalBeat float64) (MusicalTime, error) {
	if cycleNumber < 0 {
		return MusicalTime{}, errors.WithStackTrace(fmt.Errorf("cycle number must be non-negative, got %d", cycleNumber))
	}
	for _, p := range hierarchicalPosition {
		if p < 0 {
			return MusicalTime{}, errors.WithStackTrace(fmt.Errorf("all hierarchical positions must be non-negative, got %v", hierarchicalPosition))
		}
	}
	if fractionalBeat < 0 || fractionalBeat >= 1 {
		return MusicalTime{}, errors.WithStackTrace(fmt.Errorf("fractional beat must be in range [0, 1), got %f", fractionalBeat))
	}
	return MusicalTime{
		CycleNumber:          cycleNumber,
		HierarchicalPosition: hierarchicalPosition,
		FractionalBeat:       fractionalBeat,
	}, nil
}

// Beat is the top-level position, 0 when the hierarchy is empty.
func (mt MusicalTime) Beat() int {
	if len(mt.HierarchicalPosition) == 0 {
		return 0
	}
	return mt.HierarchicalPosition[0]
}

// Subdivision is the second-level position; ok is false when the queried
// depth stops above it.
func (mt MusicalTime) Subdivision() (int, bool) {
	return mt.GetLevel(1)
}

// SubSubdivision is the third-level position.
func (mt MusicalTime) SubSubdivision() (int, bool) {
	return mt.GetLevel(2)
}

// GetLevel returns the position at a hierarchy level.
func (mt MusicalTime) GetLevel(level int) (int, bool) {
	if level < 0 || level >= len(mt.HierarchicalPosition) {
		return 0, false
	}
	return mt.HierarchicalPosition[level], true
}

// HierarchyDepth is the number of levels the position resolves.
func (mt MusicalTime) HierarchyDepth() int {
	return len(mt.HierarchicalPosition)
}

// String is the compact form, e.g. "C2:1.2+0.000".
func (mt MusicalTime) String() string {
	parts := make([]string, len(mt.HierarchicalPosition))
	for i, p := range mt.HierarchicalPosition {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("C%d:%s+%.3f", mt.CycleNumber, strings.Join(parts, "."), mt.FractionalBeat)
}

// ToReadableString spells the position out 1-indexed,
// e.g. "Cycle 3, Beat 2, Subdivision 3, +0.000".
func (mt MusicalTime) ToReadableString() string {
	parts := []string{fmt.Sprintf("Cycle %d", mt.CycleNumber+1)}
	for i, p := range mt.HierarchicalPosition {
		name := fmt.Sprintf("Level %d", i+1)
		if i < len(levelNames) {
			name = levelNames[i]
		}
		parts = append(parts, fmt.Sprintf("%s %d", name, p+1))
	}
	parts = append(parts, fmt.Sprintf("+%.3f", mt.FractionalBeat))
	return strings.Join(parts, ", ")
}
