// Package meter is a hierarchical pulse clock over absolute time. A meter
// expands its hierarchy into per-level pulse layers across a number of
// cycle repetitions; individual pulses can be displaced for rubato, and
// queries map an absolute instant back to a cycle/beat/subdivision position.
package meter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gruntwork-io/go-commons/errors"
)

// Pulse is one tick at one hierarchy level. Offset is its rubato
// displacement in seconds from the derived nominal time.
type Pulse struct {
	UniqueID string
	Level    int
	Idx      int
	Offset   float64
	RealTime float64
}

// Meter expands a branching hierarchy into pulse layers. Tempo is the BPM of
// the top hierarchy level.
type Meter struct {
	Hierarchy   []int
	Tempo       float64
	StartTime   float64
	Repetitions int
	UniqueID    string

	layers [][]*Pulse
}

// Options configures New. Tempo defaults to 60 BPM, Repetitions to 1.
type Options struct {
	Hierarchy   []int
	Tempo       float64
	StartTime   float64
	Repetitions int
	UniqueID    string
}

func New(opts Options) (*Meter, error) {
	if len(opts.Hierarchy) == 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("meter hierarchy must not be empty"))
	}
	for i, arity := range opts.Hierarchy {
		if arity < 1 {
			return nil, errors.WithStackTrace(fmt.Errorf("hierarchy level %d must have at least 1 pulse, got %d", i, arity))
		}
	}
	tempo := opts.Tempo
	if tempo == 0 {
		tempo = 60
	}
	if tempo < 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("tempo must be positive, got %f", tempo))
	}
	reps := opts.Repetitions
	if reps == 0 {
		reps = 1
	}
	if reps < 0 {
		return nil, errors.WithStackTrace(fmt.Errorf("repetitions must be positive, got %d", reps))
	}
	id := opts.UniqueID
	if id == "" {
		id = uuid.NewString()
	}
	m := &Meter{
		Hierarchy:   append([]int(nil), opts.Hierarchy...),
		Tempo:       tempo,
		StartTime:   opts.StartTime,
		Repetitions: reps,
		UniqueID:    id,
	}
	m.buildLayers()
	return m, nil
}

func MustNew(opts Options) *Meter {
	m, err := New(opts)
	if err != nil {
		panic(err)
	}
	return m
}

// CycleDur is the duration of one cycle in seconds.
func (m *Meter) CycleDur() float64 {
	return 60 / m.Tempo * float64(m.Hierarchy[0])
}

// DurTot is the duration of all repetitions.
func (m *Meter) DurTot() float64 {
	return m.CycleDur() * float64(m.Repetitions)
}

// EndTime is the first instant past the meter's window.
func (m *Meter) EndTime() float64 {
	return m.StartTime + m.DurTot()
}

func (m *Meter) pulsesPerCycle(level int) int {
	out := 1
	for _, arity := range m.Hierarchy[:level+1] {
		out *= arity
	}
	return out
}

func (m *Meter) buildLayers() {
	m.layers = make([][]*Pulse, len(m.Hierarchy))
	for level := range m.Hierarchy {
		n := m.pulsesPerCycle(level) * m.Repetitions
		layer := make([]*Pulse, n)
		for i := range layer {
			layer[i] = &Pulse{UniqueID: uuid.NewString(), Level: level, Idx: i}
		}
		m.layers[level] = layer
	}
	m.recompute()
}

// recompute rederives every pulse's real time. The top layer ticks at the
// nominal tempo; deeper layers divide the real interval between consecutive
// parent pulses, so a displaced parent proportionally drags its descendants.
func (m *Meter) recompute() {
	pulseDur := 60 / m.Tempo
	for i, p := range m.layers[0] {
		p.RealTime = m.StartTime + float64(i)*pulseDur + p.Offset
	}
	end := m.EndTime()
	for level := 1; level < len(m.Hierarchy); level++ {
		arity := m.Hierarchy[level]
		parents := m.layers[level-1]
		layer := m.layers[level]
		for pi, parent := range parents {
			t0 := parent.RealTime
			t1 := end
			if pi+1 < len(parents) {
				t1 = parents[pi+1].RealTime
			}
			for j := 0; j < arity; j++ {
				child := layer[pi*arity+j]
				child.RealTime = t0 + float64(j)*(t1-t0)/float64(arity) + child.Offset
			}
		}
	}
}

// AllPulses is the deepest layer, in time order.
func (m *Meter) AllPulses() []*Pulse {
	return m.layers[len(m.layers)-1]
}

// PulseLayers exposes every layer, top level first.
func (m *Meter) PulseLayers() [][]*Pulse {
	return m.layers
}

// PulseFromID finds a pulse at any level by its unique id.
func (m *Meter) PulseFromID(id string) *Pulse {
	for _, layer := range m.layers {
		for _, p := range layer {
			if p.UniqueID == id {
				return p
			}
		}
	}
	return nil
}

// OffsetPulse displaces one pulse's real time by delta seconds and
// rederives its descendants. Offsets accumulate across calls.
func (m *Meter) OffsetPulse(p *Pulse, delta float64) error {
	if p.Level < 0 || p.Level >= len(m.layers) || p.Idx < 0 || p.Idx >= len(m.layers[p.Level]) || m.layers[p.Level][p.Idx] != p {
		return errors.WithStackTrace(fmt.Errorf("pulse %s does not belong to meter %s", p.UniqueID, m.UniqueID))
	}
	p.Offset += delta
	m.recompute()
	return nil
}

// SetTempo rescales the nominal grid, keeping rubato offsets.
func (m *Meter) SetTempo(tempo float64) error {
	if tempo <= 0 {
		return errors.WithStackTrace(fmt.Errorf("tempo must be positive, got %f", tempo))
	}
	m.Tempo = tempo
	m.recompute()
	return nil
}

// SetStartTime shifts the whole meter.
func (m *Meter) SetStartTime(startTime float64) {
	m.StartTime = startTime
	m.recompute()
}

// GetMusicalTime locates t at the deepest hierarchy level. The bool is
// false when t falls outside the meter's window.
func (m *Meter) GetMusicalTime(t float64) (MusicalTime, bool) {
	mt, ok, _ := m.GetMusicalTimeAtLevel(t, len(m.Hierarchy)-1)
	return mt, ok
}

// GetMusicalTimeAtLevel locates t down to refLevel. An out-of-range
// refLevel is a usage error; an out-of-window t is the false sentinel.
// The fractional beat is measured against the real, rubato-adjusted
// neighboring pulse times, never the nominal grid.
func (m *Meter) GetMusicalTimeAtLevel(t float64, refLevel int) (MusicalTime, bool, error) {
	if refLevel < 0 {
		return MusicalTime{}, false, errors.WithStackTrace(fmt.Errorf("reference level must be non-negative, got %d", refLevel))
	}
	if refLevel >= len(m.Hierarchy) {
		return MusicalTime{}, false, errors.WithStackTrace(fmt.Errorf("reference level %d exceeds hierarchy depth %d", refLevel, len(m.Hierarchy)))
	}
	if t < m.StartTime || t >= m.EndTime() {
		return MusicalTime{}, false, nil
	}

	layer := m.layers[refLevel]
	idx := 0
	for i, p := range layer {
		if p.RealTime <= t {
			idx = i
		}
	}

	perCycle := m.pulsesPerCycle(refLevel)
	cycle := idx / perCycle
	within := idx % perCycle
	pos := make([]int, refLevel+1)
	below := perCycle
	for level := 0; level <= refLevel; level++ {
		below /= m.Hierarchy[level]
		pos[level] = (within / below) % m.Hierarchy[level]
	}

	next := m.EndTime()
	if idx+1 < len(layer) {
		next = layer[idx+1].RealTime
	}
	frac := 0.0
	if span := next - layer[idx].RealTime; span > 0 {
		frac = (t - layer[idx].RealTime) / span
	}
	if frac < 0 {
		frac = 0
	}
	if frac >= 1 {
		frac = 1 - 1e-9
	}

	mt, err := NewMusicalTime(cycle, pos, frac)
	if err != nil {
		return MusicalTime{}, false, err
	}
	return mt, true, nil
}

func offsetKey(level, idx int) string {
	return strconv.Itoa(level) + ":" + strconv.Itoa(idx)
}

type meterJSON struct {
	UniqueID     string             `json:"uniqueId"`
	Hierarchy    []int              `json:"hierarchy"`
	Tempo        float64            `json:"tempo"`
	StartTime    float64            `json:"startTime"`
	Repetitions  int                `json:"repetitions"`
	PulseOffsets map[string]float64 `json:"pulseOffsets,omitempty"`
}

// MarshalJSON persists the configuration plus any nonzero rubato offsets,
// keyed "level:index". Pulse layers are derived and never persisted.
func (m *Meter) MarshalJSON() ([]byte, error) {
	var offsets map[string]float64
	for _, layer := range m.layers {
		for _, p := range layer {
			if p.Offset != 0 {
				if offsets == nil {
					offsets = map[string]float64{}
				}
				offsets[offsetKey(p.Level, p.Idx)] = p.Offset
			}
		}
	}
	return json.Marshal(meterJSON{
		UniqueID:     m.UniqueID,
		Hierarchy:    m.Hierarchy,
		Tempo:        m.Tempo,
		StartTime:    m.StartTime,
		Repetitions:  m.Repetitions,
		PulseOffsets: offsets,
	})
}

// FromJSON rebuilds a meter and re-applies persisted rubato offsets.
func FromJSON(data []byte) (*Meter, error) {
	var raw meterJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithStackTrace(err)
	}
	m, err := New(Options{
		Hierarchy:   raw.Hierarchy,
		Tempo:       raw.Tempo,
		StartTime:   raw.StartTime,
		Repetitions: raw.Repetitions,
		UniqueID:    raw.UniqueID,
	})
	if err != nil {
		return nil, err
	}
	for key, offset := range raw.PulseOffsets {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			return nil, errors.WithStackTrace(fmt.Errorf("malformed pulse offset key %q", key))
		}
		level, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, errors.WithStackTrace(err)
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, errors.WithStackTrace(err)
		}
		if level < 0 || level >= len(m.layers) || idx < 0 || idx >= len(m.layers[level]) {
			return nil, errors.WithStackTrace(fmt.Errorf("pulse offset key %q out of range", key))
		}
		m.layers[level][idx].Offset = offset
	}
	m.recompute()
	return m, nil
}
