// Package oscilloscope provides the decoded trace type shared by the scope
// drivers, and the utilities to store and display it
package oscilloscope

import (
	"bufio"
	"encoding/csv"
	"io"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// TimeHeader labels the time column of an encoded trace
const TimeHeader = "Time (s)"

// ErrEmptyTrace is generated when an operation needs at least one sample
var ErrEmptyTrace = errors.New("trace has no samples")

// Column is the voltage record of one channel
type Column struct {
	// Name labels the column, e.g. CH1
	Name string `json:"name"`

	// Volts holds one value per entry of the trace's time axis
	Volts []float64 `json:"volts"`
}

// Trace is a decoded waveform recording: a time axis shared by one or more
// channels of voltage data
type Trace struct {
	// Time is the time of each sample in seconds, relative to the trigger
	Time []float64 `json:"time"`

	// Channels holds the voltage columns, in channel order
	Channels []Column `json:"channels"`
}

// Len is the number of samples in the trace
func (tr Trace) Len() int {
	return len(tr.Time)
}

// Column returns the column with the given name
func (tr Trace) Column(name string) (Column, bool) {
	for _, c := range tr.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// EncodeCSV writes the trace as a table with a header row,
// Time (s) followed by one column per channel
func (tr Trace) EncodeCSV(w io.Writer) error {
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	row := make([]string, len(tr.Channels)+1)
	row[0] = TimeHeader
	for j, c := range tr.Channels {
		row[j+1] = c.Name
	}
	if err := writer.Write(row); err != nil {
		return err
	}
	for i := 0; i < len(tr.Time); i++ {
		row[0] = strconv.FormatFloat(tr.Time[i], 'G', -1, 64)
		for j, c := range tr.Channels {
			row[j+1] = strconv.FormatFloat(c.Volts[i], 'G', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

// PlotDownsampleFactor is the thinning applied before plotting a readout of n
// points.  Long-memory readouts of ~1M points are thinned by 20, ~500k by 10
func PlotDownsampleFactor(n int) int {
	switch {
	case n > 524300:
		return 20
	case n > 16394:
		return 10
	default:
		return 1
	}
}

// Downsample returns a random subset of len/factor samples, kept in time
// order.  A factor of one or less returns the trace unchanged
func (tr Trace) Downsample(factor int, rng *rand.Rand) Trace {
	if factor <= 1 || tr.Len() == 0 {
		return tr
	}
	n := tr.Len() / factor
	idx := rng.Perm(tr.Len())[:n]
	sort.Ints(idx)
	out := Trace{Time: make([]float64, n), Channels: make([]Column, len(tr.Channels))}
	for j, c := range tr.Channels {
		out.Channels[j] = Column{Name: c.Name, Volts: make([]float64, n)}
	}
	for k, i := range idx {
		out.Time[k] = tr.Time[i]
		for j, c := range tr.Channels {
			out.Channels[j].Volts[k] = c.Volts[i]
		}
	}
	return out
}

// TimeUnits chooses the display unit for the time axis from the magnitude of
// the final sample, and returns the unit label and the multiplier into it
func (tr Trace) TimeUnits() (string, float64) {
	if tr.Len() == 0 {
		return "s", 1
	}
	last := math.Abs(tr.Time[tr.Len()-1])
	switch {
	case last < 1e-6:
		return "ns", 1e9
	case last < 1e-3:
		return "µs", 1e6
	case last < 1:
		return "ms", 1e3
	default:
		return "s", 1
	}
}

// VoltUnits chooses mV for a column whose maximum is below 200 mV, else V
func VoltUnits(c Column) (string, float64) {
	if len(c.Volts) == 0 {
		return "V", 1
	}
	max := c.Volts[0]
	for _, v := range c.Volts[1:] {
		if v > max {
			max = v
		}
	}
	if max < 0.2 {
		return "mV", 1e3
	}
	return "V", 1
}
