package main

import (
	"image/color"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/coldatomlab/labctl/rigol"
)

// Segment is one piece of the waveform.  Times and levels are fractions of
// the period and of full scale
type Segment struct {
	// Kind is ramp, step, gaussian or fill
	Kind string `koanf:"Kind" yaml:"Kind"`

	// Start is the start time of the segment; End the end of a ramp;
	// Center the center of a gaussian
	Start  float64 `koanf:"Start" yaml:"Start"`
	End    float64 `koanf:"End" yaml:"End"`
	Center float64 `koanf:"Center" yaml:"Center"`

	// From and To are the levels at either end of a ramp or step.  With
	// Hold, From is the level the wave already has at Start
	From float64 `koanf:"From" yaml:"From"`
	To   float64 `koanf:"To" yaml:"To"`
	Hold bool    `koanf:"Hold" yaml:"Hold"`

	Amplitude float64 `koanf:"Amplitude" yaml:"Amplitude"`
	Sigma     float64 `koanf:"Sigma" yaml:"Sigma"`
	Smooth    bool    `koanf:"Smooth" yaml:"Smooth"`
}

// Train is a regular train of gaussian pulses
type Train struct {
	Separation float64 `koanf:"Separation" yaml:"Separation"`
	Amplitude  float64 `koanf:"Amplitude" yaml:"Amplitude"`
	Sigma      float64 `koanf:"Sigma" yaml:"Sigma"`
}

// Config describes the waveform and where to put it
type Config struct {
	// Output is the .RAF file to write
	Output string `koanf:"Output" yaml:"Output"`

	// Preview is an optional PNG of the waveform
	Preview string `koanf:"Preview" yaml:"Preview"`

	// Segments are applied in order.  Without segments, Train is used
	Segments []Segment `koanf:"Segments" yaml:"Segments"`
	Train    Train     `koanf:"Train" yaml:"Train"`
}

// build assembles the waveform described by c
func build(c Config) (*rigol.ArbWave, error) {
	if len(c.Segments) == 0 {
		return rigol.GaussianTrain(c.Train.Separation, c.Train.Amplitude, c.Train.Sigma)
	}
	w := rigol.NewArbWave()
	for i, s := range c.Segments {
		from := s.From
		if s.Hold {
			from = w.At(s.Start)
		}
		switch strings.ToLower(s.Kind) {
		case "ramp":
			if err := w.Ramp(s.Start, from, s.End, s.To); err != nil {
				return nil, errors.Wrapf(err, "segment %d", i)
			}
		case "step":
			w.Step(s.Start, from, s.To)
		case "gaussian":
			if s.Sigma <= 0 {
				return nil, errors.Errorf("segment %d: gaussian sigma %g must be positive", i, s.Sigma)
			}
			w.Gaussian(s.Start, s.Center, s.Amplitude, s.Sigma, s.Smooth)
		case "fill":
			w.Fill(s.Start, s.To)
		default:
			return nil, errors.Errorf("segment %d: unknown kind %q", i, s.Kind)
		}
	}
	return w, nil
}

func save(w *rigol.ArbWave, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err = w.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func preview(w *rigol.ArbWave, path string) error {
	vals := w.Values()
	pts := make(plotter.XYs, len(vals))
	for i, v := range vals {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	p := plot.New()
	p.Title.Text = "Arbitrary Waveform"
	p.X.Label.Text = "Time Step"
	p.Y.Label.Text = "V / Vmax"
	p.Y.Min, p.Y.Max = -0.02, 1.02
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.Black
	p.Add(line)
	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}
