/*Package cryostat logs the temperature of a cryostat read from a DT-600
silicon diode, and the error signal of the temperature controller.

Two voltmeter inputs are polled.  Input 0 is the diode, converted to
temperature through a Curve; input 1 is the controller setpoint, so that
V1-V0 is the error signal.  Each reading is the mean of several conversions.
*/
package cryostat

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
)

// Voltmeter reads a DC voltage from one of its inputs
type Voltmeter interface {
	Voltage(ch int) (float64, error)
}

// DMM is a SCPI multimeter or DAQ, such as a Keysight 34970A, that measures
// with MEAS:VOLT:DC? (@ch)
type DMM struct {
	scpi.SCPI
}

// NewDMM returns a multimeter talking over connections made by maker
func NewDMM(maker comm.CreationFunc) *DMM {
	pool := comm.NewPool(1, time.Minute, maker)
	return &DMM{scpi.SCPI{Pool: pool, Timeout: 3 * time.Second}}
}

// OpenDMM returns a multimeter on the network at addr
func OpenDMM(addr string) *DMM {
	return NewDMM(comm.BackingOffTCPConnMaker(addr, 3*time.Second))
}

// Voltage measures input ch
func (d *DMM) Voltage(ch int) (float64, error) {
	return d.ReadFloat(fmt.Sprintf("MEAS:VOLT:DC? (@%d)", ch))
}

// Average returns the mean of n readings of input ch
func Average(ctx context.Context, v Voltmeter, ch, n int) (float64, error) {
	if n < 1 {
		n = 1
	}
	readings := make([]float64, n)
	for i := range readings {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r, err := v.Voltage(ch)
		if err != nil {
			return 0, errors.Wrapf(err, "reading input %d", ch)
		}
		readings[i] = r
	}
	return stat.Mean(readings, nil), nil
}

// Sample is one row of the temperature log
type Sample struct {
	Time time.Time
	V0   float64
	V1   float64

	// Kelvin is the temperature of input 0, NaN if off the curve
	Kelvin float64
}

// Error is the controller error signal, V1-V0
func (s Sample) Error() float64 {
	return s.V1 - s.V0
}

// Header is the first row of the log
var Header = []string{"time", "V0", "V1", "V1-V0", "T(V0)"}

func (s Sample) record() []string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'G', -1, 64) }
	return []string{s.Time.Format(time.RFC3339Nano), f(s.V0), f(s.V1), f(s.Error()), f(s.Kelvin)}
}

// Logger polls two voltmeter inputs and writes a CSV log
type Logger struct {
	Meter Voltmeter

	// Curve converts input 0 to temperature.  If nil, T(V0) is NaN
	Curve *Curve

	// Inputs are the voltmeter channels of the diode and the setpoint
	Inputs [2]int

	// Averages is the number of conversions averaged per reading
	Averages int

	// Interval between samples; zero polls back to back
	Interval time.Duration

	// LogEvery prints every Nth sample to Log
	LogEvery int

	// Samples stops the logger after that many rows; zero runs until the
	// context is cancelled
	Samples int

	// Publisher, if not nil, receives every sample after it is written.
	// Publishing errors are logged and do not stop the logger
	Publisher Publisher

	Log logrus.FieldLogger
}

func (l *Logger) log() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// Sample takes one reading of both inputs
func (l *Logger) Sample(ctx context.Context) (Sample, error) {
	s := Sample{Time: time.Now(), Kelvin: math.NaN()}
	var err error
	if s.V0, err = Average(ctx, l.Meter, l.Inputs[0], l.Averages); err != nil {
		return s, err
	}
	if s.V1, err = Average(ctx, l.Meter, l.Inputs[1], l.Averages); err != nil {
		return s, err
	}
	if l.Curve != nil {
		k, err := l.Curve.Temperature(s.V0)
		if err != nil {
			l.log().WithError(err).Warn("no temperature for diode voltage")
		} else {
			s.Kelvin = float64(k)
		}
	}
	return s, nil
}

// Run writes the header and then one row per sample to w until ctx is
// cancelled or Samples rows have been written.  Cancellation is not an error
func (l *Logger) Run(ctx context.Context, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	cw.Flush()

	var tick <-chan time.Time
	if l.Interval > 0 {
		t := time.NewTicker(l.Interval)
		defer t.Stop()
		tick = t.C
	}
	for n := 1; l.Samples == 0 || n <= l.Samples; n++ {
		s, err := l.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := cw.Write(s.record()); err != nil {
			return err
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		if l.Publisher != nil {
			if err := l.Publisher.Publish(ctx, s); err != nil {
				l.log().WithError(err).Warn("publish failed")
			}
		}
		if l.LogEvery > 0 && n%l.LogEvery == 0 {
			l.log().WithFields(logrus.Fields{
				"n":      n,
				"error":  s.Error(),
				"kelvin": s.Kelvin,
			}).Info("cryostat")
		}
		if tick == nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
	return nil
}
