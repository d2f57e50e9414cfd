package oscilloscope

import (
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	// trace colors follow the scope's front panel
	ch1Color = color.RGBA{R: 0xe6, G: 0xc8, B: 0x00, A: 0xff}
	ch2Color = color.RGBA{R: 0x00, G: 0x40, B: 0xff, A: 0xff}
)

// Plot renders the trace in display units.  The y range is padded by a third
// of the span of the first channel on both sides
func Plot(tr Trace) (*plot.Plot, error) {
	if tr.Len() == 0 || len(tr.Channels) == 0 {
		return nil, ErrEmptyTrace
	}
	tUnit, tScale := tr.TimeUnits()
	p := plot.New()
	p.Title.Text = "Oscilloscope Waveform"
	p.X.Label.Text = "Time (" + tUnit + ")"

	label := ""
	lo, hi := math.Inf(1), math.Inf(-1)
	for j, c := range tr.Channels {
		vUnit, vScale := VoltUnits(c)
		pts := make(plotter.XYs, tr.Len())
		for i := range pts {
			pts[i].X = tr.Time[i] * tScale
			pts[i].Y = c.Volts[i] * vScale
			if j == 0 {
				lo = math.Min(lo, pts[i].Y)
				hi = math.Max(hi, pts[i].Y)
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = ch1Color
		if c.Name == "CH2" {
			line.Color = ch2Color
		}
		if j > 0 {
			label += ", "
		}
		label += c.Name + " (" + vUnit + ")"
		p.Add(line)
	}
	p.Y.Label.Text = "Channel Voltage: " + label
	p.X.Min = tr.Time[0] * tScale
	p.X.Max = tr.Time[tr.Len()-1] * tScale
	span := hi - lo
	p.Y.Min = lo - span/3
	p.Y.Max = hi + span/3
	return p, nil
}

// SavePNG plots the trace and writes it to path
func SavePNG(tr Trace, path string) error {
	p, err := Plot(tr)
	if err != nil {
		return err
	}
	return p.Save(20*vg.Inch, 10*vg.Inch, path)
}

// WritePNG plots the trace and writes the image to w
func WritePNG(tr Trace, w io.Writer) error {
	p, err := Plot(tr)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(20*vg.Inch, 10*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
