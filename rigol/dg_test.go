package rigol

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/coldatomlab/labctl/scpi"
	"github.com/coldatomlab/labctl/scpi/scpitest"
)

func TestPrepareVolatile(t *testing.T) {
	Convey("Given a voltage waveform", t, func() {
		ts := []float64{0, 1e-6, 2e-6}
		vs := []float64{-1, 0, 1.0004}
		Convey("it is normalized to the 14-bit range", func() {
			arb, err := PrepareVolatile(ts, vs)
			So(err, ShouldBeNil)
			So(arb.SampleRate, ShouldEqual, 1000000)
			So(arb.Amplitude, ShouldEqual, 2.0)
			So(arb.Offset, ShouldEqual, 0.0)
			So(arb.Codes[0], ShouldEqual, uint16(0))
			So(arb.Codes[2], ShouldEqual, uint16(PointRange))
		})
		Convey("mismatched vectors are rejected", func() {
			_, err := PrepareVolatile(ts, vs[:2])
			So(err, ShouldNotBeNil)
		})
		Convey("a flat waveform is rejected", func() {
			_, err := PrepareVolatile(ts, []float64{1, 1, 1})
			So(err, ShouldNotBeNil)
		})
		Convey("a single point is rejected", func() {
			_, err := PrepareVolatile(ts[:1], vs[:1])
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLoadVolatile(t *testing.T) {
	Convey("Given a DG1032", t, func() {
		peer := scpitest.NewPeer(map[string]string{":SYST:ERR?": `0,"No error"`})
		defer peer.Close()
		f := newTestGenerator(peer, DG1032)
		Convey("points are uploaded in order after the channel is configured", func() {
			_, err := f.LoadVolatile(context.Background(), 2, []float64{0, 1e-3, 2e-3}, []float64{0, 1, 2})
			So(err, ShouldBeNil)
			So(commandsAfter(peer), ShouldResemble, []string{
				":SOURCE2:APPL:ARB 1000,2,1",
				":SYST:ERR?",
				":SOUR2:TRACE:DATA:POIN VOLATILE,3",
				":SYST:ERR?",
				":SOUR2:DATA:VAL VOLATILE,1,0",
				":SOUR2:DATA:VAL VOLATILE,2,8192",
				":SOUR2:DATA:VAL VOLATILE,3,16383",
				":SYST:ERR?",
			})
		})
		Convey("a rejected setting stops the upload before any point is written", func() {
			peer.Reply(":SYST:ERR?", `-222,"Data out of range"`)
			_, err := f.LoadVolatile(context.Background(), 1, []float64{0, 1e-3}, []float64{0, 1})
			var de *scpi.DeviceError
			So(errors.As(err, &de), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "Data out of range")
			for _, c := range commandsAfter(peer) {
				So(c, ShouldNotStartWith, ":SOUR1:TRACE:DATA:POIN")
				So(c, ShouldNotStartWith, ":SOUR1:DATA:VAL")
			}
		})
		Convey("a cancelled upload stops before the points", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := f.LoadVolatile(ctx, 1, []float64{0, 1}, []float64{0, 1})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			for _, c := range commandsAfter(peer) {
				So(c, ShouldNotStartWith, ":SOUR1:DATA:VAL")
			}
		})
		Convey("channel 3 does not exist", func() {
			So(f.Output(3, true), ShouldNotBeNil)
		})
	})
}

func TestLoadVolatileSettles(t *testing.T) {
	peer := scpitest.NewPeer(map[string]string{":SYST:ERR?": `0,"No error"`})
	defer peer.Close()
	model := DG1032
	f := newTestGenerator(peer, model)
	model.LoadSettle = 40 * time.Millisecond
	model.PointDelay = 0
	model.Settle, model.ArbSettle = 0, 0
	f.SetCapability(model)
	start := time.Now()
	if _, err := f.LoadVolatile(context.Background(), 1, []float64{0, 1}, []float64{0, 1}); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 2*model.LoadSettle {
		t.Errorf("expected a settle after both the arbitrary settings and the point count, took %v", elapsed)
	}
}

func TestOutputState(t *testing.T) {
	peer := scpitest.NewPeer(map[string]string{":OUTP1?": "ON", ":OUTP2?": "OFF"})
	defer peer.Close()
	f := newTestGenerator(peer, DG4162)
	for ch, want := range map[int]bool{1: true, 2: false} {
		on, err := f.OutputState(ch)
		if err != nil {
			t.Fatal(err)
		}
		if on != want {
			t.Errorf("channel %d: expected output %v, got %v", ch, want, on)
		}
	}
	if _, err := f.OutputState(3); err == nil {
		t.Error("expected an error for channel 3")
	}
}

func TestGeneratorCommands(t *testing.T) {
	Convey("Given a DG4162", t, func() {
		peer := scpitest.NewPeer(map[string]string{
			"*IDN?":       "Rigol Technologies,DG4162,DG4E000000001,00.01.06",
			":SOUR1:APPL?": "",
		})
		defer peer.Close()
		f := newTestGenerator(peer, DG4162)
		Convey("it identifies with *IDN?", func() {
			id, err := f.Identification()
			So(err, ShouldBeNil)
			So(id, ShouldContainSubstring, "DG4162")
		})
		Convey("a square wave is described by its edges", func() {
			So(f.SetSquare(1, 1, -1, 1e-3, 0.25e-3), ShouldBeNil)
			So(commandsAfter(peer), ShouldResemble, []string{":SOURCE1:APPL:SQU 1000,2,0,90"})
		})
		Convey("a pulse also sets its duty cycle", func() {
			So(f.SetPulse(2, 5, 0, 1e-3, 20, 0), ShouldBeNil)
			So(commandsAfter(peer), ShouldResemble, []string{
				":SOURCE2:APPL:PULSE 1000,5,2.5,0",
				":SOURCE2:FUNCTION:PULSE:DCYCLE 20",
			})
		})
		Convey("an external burst skips the internal period", func() {
			So(f.Burst(1, BurstConfig{Cycles: 3, TriggerSource: "ext", Delay: 1e-6}), ShouldBeNil)
			So(commandsAfter(peer), ShouldResemble, []string{
				":SOURCE1:BURST:MODE TRIG",
				":SOURCE1:BURST:NCYCL 3",
				":SOURCE1:BURST:TRIG:SOURCE EXT",
				":SOURCE1:BURST:TDEL 1e-06",
				":SOURCE1:BURST:IDEL 0",
				":SOURCE1:BURST:STATE ON",
			})
		})
		Convey("an internal burst sets the period", func() {
			So(f.Burst(2, BurstConfig{Cycles: 1, TriggerSource: "INT", Period: 0.1}), ShouldBeNil)
			So(commandsAfter(peer), ShouldContain, ":SOURCE2:BURST:INT:PER 0.1")
		})
		Convey("an empty waveform description is reported", func() {
			_, err := f.WaveformDetails(1)
			So(err, ShouldEqual, ErrNoDetails)
		})
	})
}
