package rigol

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	// ArbSteps is the number of points in a stored arbitrary waveform file
	ArbSteps = 4096

	// PointRange is the largest 14-bit arbitrary waveform code
	PointRange = 16383
)

// Quantize converts a level in [0,1] to a 14-bit code, clamping out of
// range levels
func Quantize(v float64) uint16 {
	c := math.Round(v * PointRange)
	if c < 0 {
		return 0
	}
	if c > PointRange {
		return PointRange
	}
	return uint16(c)
}

// Dequantize converts a 14-bit code to a level in [0,1]
func Dequantize(c uint16) float64 {
	return float64(c) / PointRange
}

// ArbWave is an arbitrary waveform of ArbSteps points built from segments.
// Times and levels are fractions of the period and of full scale, in [0,1].
// Each segment holds its final level to the end of the wave, so segments are
// added in time order
type ArbWave struct {
	codes [ArbSteps]uint16
}

// NewArbWave returns a wave at level zero
func NewArbWave() *ArbWave {
	return &ArbWave{}
}

func stepOf(t float64) int {
	i := int(ArbSteps * t)
	if i < 0 {
		return 0
	}
	if i > ArbSteps {
		return ArbSteps
	}
	return i
}

// At returns the level of the wave at time t
func (w *ArbWave) At(t float64) float64 {
	i := stepOf(t)
	if i == ArbSteps {
		i--
	}
	return Dequantize(w.codes[i])
}

// Fill holds level v from time t to the end of the wave
func (w *ArbWave) Fill(t, v float64) {
	w.fill(stepOf(t), v)
}

func (w *ArbWave) fill(from int, v float64) {
	c := Quantize(v)
	for i := from; i < ArbSteps; i++ {
		w.codes[i] = c
	}
}

// Ramp adds a linear ramp from vi at ti to vf just before tf
func (w *ArbWave) Ramp(ti, vi, tf, vf float64) error {
	i, f := stepOf(ti), stepOf(tf)
	if f <= i {
		return errors.Errorf("ramp from %g to %g spans no steps", ti, tf)
	}
	for k := i; k < f; k++ {
		w.codes[k] = Quantize(vi + (vf-vi)*float64(k-i)/float64(f-i))
	}
	w.fill(f, vf)
	return nil
}

// Step adds a single-step transition from vi to vf at ti
func (w *ArbWave) Step(ti, vi, vf float64) {
	i := stepOf(ti)
	if i >= ArbSteps {
		return
	}
	w.codes[i] = Quantize(vi)
	w.fill(i+1, vf)
}

// Gaussian adds a pulse of amplitude amp and standard deviation sigma
// centered on to, sampled from ti to the mirror time 2*to-ti.  The pulse sits
// on the level at ti; with avoidDiscontinuity the pulse is lowered so that it
// starts exactly at that level, which reduces its peak height
func (w *ArbWave) Gaussian(ti, to, amp, sigma float64, avoidDiscontinuity bool) {
	tf := to + (to - ti)
	i, center, f := stepOf(ti), float64(stepOf(to)), stepOf(tf)
	s := float64(int(ArbSteps * sigma))
	if s == 0 || i >= ArbSteps {
		return
	}
	gauss := func(k int) float64 {
		d := float64(k) - center
		return amp * math.Exp(-d*d/(2*s*s))
	}
	base := w.At(ti)
	if avoidDiscontinuity {
		base -= gauss(i)
	}
	for k := i; k < f; k++ {
		w.codes[k] = Quantize(base + gauss(k))
	}
}

// Codes returns the 14-bit code of every step
func (w *ArbWave) Codes() []uint16 {
	out := make([]uint16, ArbSteps)
	copy(out, w.codes[:])
	return out
}

// Values returns the level of every step
func (w *ArbWave) Values() []float64 {
	out := make([]float64, ArbSteps)
	for i, c := range w.codes {
		out[i] = Dequantize(c)
	}
	return out
}

// WriteTo writes the wave as little-endian uint16 words, the layout of a
// Rigol .RAF file
func (w *ArbWave) WriteTo(wr io.Writer) (int64, error) {
	buf := make([]byte, 2*ArbSteps)
	for i, c := range w.codes {
		binary.LittleEndian.PutUint16(buf[2*i:], c)
	}
	n, err := wr.Write(buf)
	return int64(n), err
}

// GaussianTrain builds a train of pulses every sep of the period, starting at
// sep/2, each sampled over a third of the separation either side of center
func GaussianTrain(sep, amp, sigma float64) (*ArbWave, error) {
	if sep <= 0 || sep >= 1 {
		return nil, errors.Errorf("pulse separation %g must be in (0,1)", sep)
	}
	w := NewArbWave()
	for t := sep / 2; t < 1; t += sep {
		w.Gaussian(t-sep/3, t, amp, sigma, false)
	}
	return w, nil
}
