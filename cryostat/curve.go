package cryostat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"

	"github.com/coldatomlab/labctl/temperature"
)

// CurveHeaderRows is the number of descriptive lines ahead of the data in a
// Lakeshore standard curve interpolation table
const CurveHeaderRows = 3

// ErrOutOfRange is returned when a voltage falls outside the calibration curve
var ErrOutOfRange = errors.New("voltage outside of calibration curve")

// Curve converts silicon diode voltage to temperature
type Curve struct {
	volts  []float64
	kelvin []float64
	fit    interp.PiecewiseLinear
}

// LoadCurve reads a curve table from disk
func LoadCurve(path string) (*Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := ParseCurve(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading curve %s", path)
	}
	return c, nil
}

// ParseCurve reads a whitespace separated table of temperature, voltage and
// sensitivity columns following CurveHeaderRows lines of text.  Only the first
// two columns are used
func ParseCurve(r io.Reader) (*Curve, error) {
	type point struct{ v, t float64 }
	var pts []point
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if line <= CurveHeaderRows {
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected at least 2 columns, got %d", line, len(fields))
		}
		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		pts = append(pts, point{v: v, t: t})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("curve needs at least 2 points, got %d", len(pts))
	}
	// diode voltage falls as temperature rises; the fit wants ascending x
	sort.Slice(pts, func(i, j int) bool { return pts[i].v < pts[j].v })
	c := &Curve{volts: make([]float64, len(pts)), kelvin: make([]float64, len(pts))}
	for i, p := range pts {
		c.volts[i], c.kelvin[i] = p.v, p.t
	}
	if err := c.fit.Fit(c.volts, c.kelvin); err != nil {
		return nil, errors.Wrap(err, "curve voltages must be distinct")
	}
	return c, nil
}

// Range returns the lowest and highest voltage on the curve
func (c *Curve) Range() (lo, hi float64) {
	return c.volts[0], c.volts[len(c.volts)-1]
}

// Temperature converts a voltage to temperature by linear interpolation
// between the neighboring table entries
func (c *Curve) Temperature(v float64) (temperature.Kelvin, error) {
	lo, hi := c.Range()
	if v < lo || v > hi {
		return 0, errors.Wrapf(ErrOutOfRange, "%g V not in [%g, %g]", v, lo, hi)
	}
	return temperature.Kelvin(c.fit.Predict(v)), nil
}
