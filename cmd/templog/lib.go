package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/cryostat"
)

// Config holds the logger setup
type Config struct {
	// Addr is the host:port of the SCPI voltmeter
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Curve is the diode calibration table; empty logs voltages only
	Curve string `koanf:"Curve" yaml:"Curve"`

	// Diode and Setpoint are the voltmeter channels
	Diode    int `koanf:"Diode" yaml:"Diode"`
	Setpoint int `koanf:"Setpoint" yaml:"Setpoint"`

	Averages int           `koanf:"Averages" yaml:"Averages"`
	Interval time.Duration `koanf:"Interval" yaml:"Interval"`
	LogEvery int           `koanf:"LogEvery" yaml:"LogEvery"`
	Samples  int           `koanf:"Samples" yaml:"Samples"`

	// Output is the CSV file.  The directory is created if needed and an
	// existing file is overwritten.  "-" writes to stdout
	Output string `koanf:"Output" yaml:"Output"`

	// Redis, if not empty, is the host:port of a redis server to publish
	// each sample to on Channel
	Redis   string `koanf:"Redis" yaml:"Redis"`
	Channel string `koanf:"Channel" yaml:"Channel"`

	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`
}

func newLogger(c Config, m cryostat.Voltmeter, log logrus.FieldLogger) (*cryostat.Logger, error) {
	l := &cryostat.Logger{
		Meter:    m,
		Inputs:   [2]int{c.Diode, c.Setpoint},
		Averages: c.Averages,
		Interval: c.Interval,
		LogEvery: c.LogEvery,
		Samples:  c.Samples,
		Log:      log,
	}
	if c.Curve != "" {
		curve, err := cryostat.LoadCurve(c.Curve)
		if err != nil {
			return nil, err
		}
		l.Curve = curve
		lo, hi := curve.Range()
		log.WithFields(logrus.Fields{"file": c.Curve, "vmin": lo, "vmax": hi}).Info("loaded diode curve")
	}
	return l, nil
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// record runs l into the file at path
func record(ctx context.Context, l *cryostat.Logger, path string) error {
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	err = l.Run(ctx, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
