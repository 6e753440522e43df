package trajectory

import (
	"math"

	"github.com/fogleman/ease"
)

// Compute evaluates the trajectory's frequency at normalized time x in
// [0, 1), dispatching on the type id.
func (t *Trajectory) Compute(x float64) float64 {
	switch t.ID {
	case TypeFixed:
		return fixed(t.LogFreqs())
	case TypeSimpleBend:
		return simpleBend(x, t.LogFreqs())
	case TypeSlopedStart:
		return slopedStart(x, t.LogFreqs(), t.Slope)
	case TypeSlopedEnd:
		return slopedEnd(x, t.LogFreqs(), t.Slope)
	case TypeLadle:
		return ladle(x, t.LogFreqs(), t.Slope, t.DurArray)
	case TypeReverseLadle:
		return reverseLadle(x, t.LogFreqs(), t.Slope, t.DurArray)
	case TypeMultiBend:
		return multiBend(x, t.LogFreqs(), t.DurArray)
	case TypeKrintin, TypeSlide:
		return hold2(x, t.LogFreqs(), t.DurArray)
	case TypeKrintinSlide, TypeKrintinSlideHammer, TypeDenseKrintinSlideHammer:
		return holdN(x, t.LogFreqs(), t.DurArray)
	case TypeSilent:
		return t.FundID12
	case TypeVibrato:
		return t.vibrato(x)
	}
	return 0
}

// ComputeLog2 is Compute in log2 space.
func (t *Trajectory) ComputeLog2(x float64) float64 {
	return math.Log2(t.Compute(x))
}

func fixed(logFreqs []float64) float64 {
	return math.Pow(2, logFreqs[0])
}

// simpleBend is the raised-cosine interpolant: zero velocity at both ends.
func simpleBend(x float64, logFreqs []float64) float64 {
	warped := ease.InOutSine(x)
	diff := logFreqs[1] - logFreqs[0]
	return math.Pow(2, warped*diff+logFreqs[0])
}

// slopedStart delays the transition's onset via the power-law exponent.
func slopedStart(x float64, logFreqs []float64, slope float64) float64 {
	a, b := logFreqs[0], logFreqs[1]
	return math.Pow(2, (a-b)*math.Pow(1-x, slope)+b)
}

// slopedEnd delays the transition's tail.
func slopedEnd(x float64, logFreqs []float64, slope float64) float64 {
	a, b := logFreqs[0], logFreqs[1]
	return math.Pow(2, (b-a)*math.Pow(x, slope)+a)
}

// ladle is a sloped-start segment followed by a raised-cosine segment, each
// rescaled to its own local [0, 1) window.
func ladle(x float64, logFreqs []float64, slope float64, durArray []float64) float64 {
	if durArray == nil {
		durArray = []float64{1.0 / 3, 2.0 / 3}
	}
	if x < durArray[0] {
		return slopedStart(x/durArray[0], logFreqs[:2], slope)
	}
	return simpleBend((x-durArray[0])/durArray[1], logFreqs[1:3])
}

// reverseLadle is the mirror: raised-cosine first, sloped-end after.
func reverseLadle(x float64, logFreqs []float64, slope float64, durArray []float64) float64 {
	if durArray == nil {
		durArray = []float64{1.0 / 3, 2.0 / 3}
	}
	if x < durArray[0] {
		return simpleBend(x/durArray[0], logFreqs[:2])
	}
	return slopedEnd((x-durArray[0])/durArray[1], logFreqs[1:3], slope)
}

// multiBend chains raised-cosine segments across N pitches, locating the
// segment by cumulative-fraction bucket.
func multiBend(x float64, logFreqs []float64, durArray []float64) float64 {
	starts := Starts(durArray)
	idx := 0
	for i, s := range starts {
		if x >= s {
			idx = i
		}
	}
	local := (x - starts[idx]) / durArray[idx]
	return simpleBend(local, logFreqs[idx:idx+2])
}

// hold2 is a two-pitch piecewise-constant hold.
func hold2(x float64, logFreqs []float64, durArray []float64) float64 {
	if durArray == nil {
		durArray = []float64{0.5, 0.5}
	}
	out := logFreqs[0]
	if x >= durArray[0] {
		out = logFreqs[1]
	}
	return math.Pow(2, out)
}

// holdN is an N-pitch piecewise-constant hold.
func holdN(x float64, logFreqs []float64, durArray []float64) float64 {
	starts := Starts(durArray)
	idx := 0
	for i, s := range starts {
		if x >= s {
			idx = i
		}
	}
	return math.Pow(2, logFreqs[idx])
}

// vibrato modulates the held pitch with a cosine of VibObj.Periods cycles.
// The first and last half-period fade linearly into the held pitch so the
// boundaries stay continuous; the vertical offset is clamped to half the
// peak-to-peak extent.
func (t *Trajectory) vibrato(x float64) float64 {
	periods := float64(t.VibObj.Periods)
	// fewer than one full cycle leaves no interior between the fades;
	// hold the base pitch instead
	if periods < 1 {
		return math.Pow(2, t.LogFreqs()[0])
	}
	vertOffset := t.VibObj.VertOffset
	extent := t.VibObj.Extent
	if math.Abs(vertOffset) > extent/2 {
		vertOffset = math.Copysign(extent/2, vertOffset)
	}
	phase := 0.0
	if t.VibObj.InitUp {
		phase = math.Pi
	}
	out := math.Cos(x*2*math.Pi*periods + phase)
	logFreq := t.LogFreqs()[0]
	half := 1 / (2 * periods)
	switch {
	case x < half:
		start := logFreq
		end := math.Log2(t.vibrato(half))
		middle := (end + start) / 2
		ext := math.Abs(end-start) / 2
		return math.Pow(2, out*ext+middle)
	case x > 1-half:
		start := math.Log2(t.vibrato(1 - half))
		end := logFreq
		middle := (end + start) / 2
		ext := math.Abs(end-start) / 2
		return math.Pow(2, out*ext+middle)
	default:
		return math.Pow(2, out*extent/2+vertOffset+logFreq)
	}
}
