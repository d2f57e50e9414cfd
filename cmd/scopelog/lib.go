package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	"github.com/coldatomlab/labctl/oscilloscope"
	"github.com/coldatomlab/labctl/rigol"
)

// Config is the acquisition setup
type Config struct {
	// Addr is the scope address, /dev/usbtmc0, usb:1ab1:0588 or host:port
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Timebase is an optional path to a timebase table
	Timebase string `koanf:"Timebase" yaml:"Timebase"`

	// Channels is the number of channels to display, 1 or 2.  Zero leaves
	// the scope as it is
	Channels int `koanf:"Channels" yaml:"Channels"`

	// AcqMode and MemDepth are applied if not empty
	AcqMode  string `koanf:"AcqMode" yaml:"AcqMode"`
	MemDepth string `koanf:"MemDepth" yaml:"MemDepth"`

	// Selection is the channel to read, 1, 2 or both
	Selection string `koanf:"Selection" yaml:"Selection"`

	// Stop halts the scope during readouts larger than the screen
	Stop bool `koanf:"Stop" yaml:"Stop"`

	// Loop keeps acquiring every Interval; Count limits the number of
	// traces, zero is unlimited
	Loop     bool          `koanf:"Loop" yaml:"Loop"`
	Interval time.Duration `koanf:"Interval" yaml:"Interval"`
	Count    int           `koanf:"Count" yaml:"Count"`

	// Files are written to OutputDir as <Prefix><n>.csv, n counting from
	// StartIndex
	OutputDir  string `koanf:"OutputDir" yaml:"OutputDir"`
	Prefix     string `koanf:"Prefix" yaml:"Prefix"`
	StartIndex int    `koanf:"StartIndex" yaml:"StartIndex"`

	// Plot writes a PNG next to each CSV
	Plot bool `koanf:"Plot" yaml:"Plot"`

	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`
}

type waveformReader interface {
	ReadWaveform(sel rigol.Selection, stopping bool) (oscilloscope.Trace, error)
}

// progress reports a readout in progress
type progress interface {
	Start(msg string)
	Done(err error)
}

type quiet struct{}

func (quiet) Start(string) {}
func (quiet) Done(error)   {}

// spinner shows a terminal spinner for readouts that take seconds
type spinner struct {
	s *yacspin.Spinner
}

func newSpinner() (progress, error) {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		StopCharacter:     "done",
		StopFailCharacter: "failed",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return nil, err
	}
	return spinner{s: s}, nil
}

func (s spinner) Start(msg string) {
	s.s.Message(msg)
	s.s.Start()
}

func (s spinner) Done(err error) {
	if err != nil {
		s.s.StopFail()
		return
	}
	s.s.Stop()
}

func traceName(dir, prefix string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%04d", prefix, n))
}

func writeTrace(tr oscilloscope.Trace, base string, plot bool) error {
	f, err := os.Create(base + ".csv")
	if err != nil {
		return err
	}
	if err = tr.EncodeCSV(f); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if !plot {
		return nil
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	small := tr.Downsample(oscilloscope.PlotDownsampleFactor(tr.Len()), rng)
	return oscilloscope.SavePNG(small, base+".png")
}

// acquire reads traces and writes them to disk until the count is reached,
// the loop is off or ctx is cancelled.  It returns the paths written, without
// extension
func acquire(ctx context.Context, r waveformReader, c Config, sel rigol.Selection, p progress, log logrus.FieldLogger) ([]string, error) {
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return nil, err
	}
	var written []string
	for n := c.StartIndex; ; n++ {
		start := time.Now()
		p.Start(fmt.Sprintf("reading %s", sel))
		tr, err := r.ReadWaveform(sel, c.Stop)
		p.Done(err)
		if err != nil {
			return written, errors.Wrapf(err, "trace %d", n)
		}
		base := traceName(c.OutputDir, c.Prefix, n)
		if err = writeTrace(tr, base, c.Plot); err != nil {
			return written, err
		}
		written = append(written, base)
		log.WithFields(logrus.Fields{
			"file":    base + ".csv",
			"points":  tr.Len(),
			"elapsed": time.Since(start),
		}).Info("saved trace")

		if !c.Loop || (c.Count > 0 && len(written) >= c.Count) || ctx.Err() != nil {
			return written, nil
		}
		select {
		case <-ctx.Done():
			return written, nil
		case <-time.After(c.Interval):
		}
	}
}

// configure applies the display and acquisition settings of c to the scope
func configure(s *rigol.Scope, c Config) error {
	if c.Channels > 0 {
		if err := s.SetChannelCount(c.Channels); err != nil {
			return err
		}
	}
	if c.AcqMode != "" {
		if err := s.SetAcqMode(rigol.AcqMode(c.AcqMode)); err != nil {
			return err
		}
	}
	if c.MemDepth != "" {
		if err := s.SetMemDepth(rigol.MemDepth(c.MemDepth)); err != nil {
			return err
		}
	}
	return nil
}
