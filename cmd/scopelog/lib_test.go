package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/oscilloscope"
	"github.com/coldatomlab/labctl/rigol"
)

type fakeReader struct {
	reads int
	fail  int
}

func (f *fakeReader) ReadWaveform(sel rigol.Selection, stopping bool) (oscilloscope.Trace, error) {
	f.reads++
	if f.reads == f.fail {
		return oscilloscope.Trace{}, &comm.TruncatedReadError{Want: 8202, Got: 4000}
	}
	return oscilloscope.Trace{
		Time:     []float64{0, 1e-6, 2e-6},
		Channels: []oscilloscope.Column{{Name: "CH1", Volts: []float64{0.1, 0.2, 0.3}}},
	}, nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestAcquireOnce(t *testing.T) {
	dir := t.TempDir()
	c := Config{OutputDir: dir, Prefix: "rb", StartIndex: 7}
	written, err := acquire(context.Background(), &fakeReader{}, c, rigol.Channel1, quiet{}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != "rb0007" {
		t.Fatalf("unexpected files %v", written)
	}
	b, err := os.ReadFile(written[0] + ".csv")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(b), "Time (s),CH1\n") {
		t.Errorf("unexpected CSV %q", b)
	}
}

func TestAcquireLoopCount(t *testing.T) {
	dir := t.TempDir()
	r := &fakeReader{}
	c := Config{OutputDir: dir, Prefix: "t", Loop: true, Count: 3, Plot: true}
	written, err := acquire(context.Background(), r, c, rigol.Channel1, quiet{}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 3 || r.reads != 3 {
		t.Fatalf("expected 3 traces, wrote %d after %d reads", len(written), r.reads)
	}
	for _, base := range written {
		if _, err := os.Stat(base + ".png"); err != nil {
			t.Errorf("missing plot: %v", err)
		}
	}
}

func TestAcquireStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeReader{}
	c := Config{OutputDir: t.TempDir(), Loop: true}
	written, err := acquire(ctx, r, c, rigol.Both, quiet{}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 1 {
		t.Errorf("expected the loop to stop after the first trace, wrote %d", len(written))
	}
}

func TestAcquireReportsFailure(t *testing.T) {
	r := &fakeReader{fail: 2}
	c := Config{OutputDir: t.TempDir(), Loop: true}
	written, err := acquire(context.Background(), r, c, rigol.Channel1, quiet{}, quietLogger())
	var te *comm.TruncatedReadError
	if !errors.As(err, &te) {
		t.Fatalf("expected a truncated read, got %v", err)
	}
	if len(written) != 1 {
		t.Errorf("expected the first trace to be kept, got %d", len(written))
	}
}
