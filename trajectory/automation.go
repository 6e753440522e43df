package trajectory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gruntwork-io/go-commons/errors"
	"gonum.org/v1/gonum/floats"
)

// AutomationPoint is one breakpoint of an auxiliary parameter envelope.
type AutomationPoint struct {
	NormTime float64 `json:"normTime"`
	Value    float64 `json:"value"`
}

// Automation is a breakpoint envelope over a trajectory's normalized time,
// linearly interpolated between points. Silent trajectories carry none.
type Automation struct {
	Values []AutomationPoint `json:"values"`
}

// NewAutomation returns a flat unity envelope.
func NewAutomation() *Automation {
	return &Automation{Values: []AutomationPoint{
		{NormTime: 0, Value: 1},
		{NormTime: 1, Value: 1},
	}}
}

// AddValue inserts or replaces a breakpoint, keeping points sorted.
func (a *Automation) AddValue(normTime, value float64) error {
	if normTime < 0 || normTime > 1 {
		return errors.WithStackTrace(fmt.Errorf("normTime out of range: %f", normTime))
	}
	for i := range a.Values {
		if a.Values[i].NormTime == normTime {
			a.Values[i].Value = value
			return nil
		}
	}
	a.Values = append(a.Values, AutomationPoint{NormTime: normTime, Value: value})
	sort.Slice(a.Values, func(i, j int) bool {
		return a.Values[i].NormTime < a.Values[j].NormTime
	})
	return nil
}

// RemoveValue drops the breakpoint at an index, keeping the endpoints.
func (a *Automation) RemoveValue(idx int) error {
	if idx <= 0 || idx >= len(a.Values)-1 {
		return errors.WithStackTrace(fmt.Errorf("cannot remove endpoint breakpoint: %d", idx))
	}
	a.Values = append(a.Values[:idx], a.Values[idx+1:]...)
	return nil
}

// ValueAtX evaluates the envelope at normalized time x.
func (a *Automation) ValueAtX(x float64) float64 {
	if len(a.Values) == 0 {
		return 1
	}
	if x <= a.Values[0].NormTime {
		return a.Values[0].Value
	}
	last := a.Values[len(a.Values)-1]
	if x >= last.NormTime {
		return last.Value
	}
	for i := 1; i < len(a.Values); i++ {
		left, right := a.Values[i-1], a.Values[i]
		if x <= right.NormTime {
			span := right.NormTime - left.NormTime
			if span == 0 {
				return right.Value
			}
			frac := (x - left.NormTime) / span
			return left.Value + frac*(right.Value-left.Value)
		}
	}
	return last.Value
}

// GenerateValueCurve samples the envelope at valueDur intervals across a
// trajectory of the given duration. Renderers consume this directly.
func (a *Automation) GenerateValueCurve(valueDur, duration float64) []float64 {
	n := int(duration/valueDur) + 1
	if n < 2 {
		n = 2
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a.ValueAtX(float64(i) / float64(n-1))
	}
	return out
}

func automationFromJSON(data json.RawMessage) (*Automation, error) {
	var a Automation
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.WithStackTrace(err)
	}
	return &a, nil
}

// Starts converts a duration array into cumulative start offsets.
func Starts(durs []float64) []float64 {
	out := make([]float64, len(durs))
	if len(durs) == 0 {
		return out
	}
	cum := make([]float64, len(durs))
	floats.CumSum(cum, durs)
	copy(out[1:], cum[:len(cum)-1])
	return out
}

// Ends converts a duration array into cumulative end offsets.
func Ends(durs []float64) []float64 {
	out := make([]float64, len(durs))
	if len(durs) == 0 {
		return out
	}
	floats.CumSum(out, durs)
	return out
}
