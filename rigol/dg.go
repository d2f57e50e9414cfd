package rigol

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
)

// Capability describes the differences between generator models
type Capability struct {
	Model    string
	Channels int

	// IdentifyCmd is the query that identifies the unit.  The DG1032 does
	// not answer *IDN?
	IdentifyCmd string

	// PointDelay is the minimum spacing of volatile memory writes.
	// Closer spacing drops points
	PointDelay time.Duration

	// Settle is waited after configuration commands
	Settle time.Duration

	// ArbSettle is waited after switching a channel to arbitrary output
	ArbSettle time.Duration

	// LoadSettle is waited after each step that prepares a volatile upload,
	// on top of ArbSettle after switching to arbitrary output
	LoadSettle time.Duration
}

var (
	// DG1032 is the Rigol DG1032 dual channel generator
	DG1032 = Capability{
		Model:       "DG1032",
		Channels:    2,
		IdentifyCmd: ":SYST:COMM:USB:INF?",
		PointDelay:  15 * time.Millisecond,
		Settle:      50 * time.Millisecond,
		ArbSettle:   500 * time.Millisecond,
		LoadSettle:  100 * time.Millisecond,
	}

	// DG4162 is the Rigol DG4162 dual channel generator
	DG4162 = Capability{
		Model:       "DG4162",
		Channels:    2,
		IdentifyCmd: "*IDN?",
		PointDelay:  15 * time.Millisecond,
		Settle:      50 * time.Millisecond,
		ArbSettle:   500 * time.Millisecond,
		LoadSettle:  time.Second,
	}
)

// FunctionGenerator is an interface to a DG1032 or DG4162
type FunctionGenerator struct {
	scpi.SCPI

	Cap Capability

	Log logrus.FieldLogger

	limiter *rate.Limiter
}

// NewFunctionGenerator creates a generator talking over connections made by maker
func NewFunctionGenerator(maker comm.CreationFunc, model Capability, log logrus.FieldLogger) *FunctionGenerator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := &FunctionGenerator{
		SCPI: scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker), Timeout: 5 * time.Second},
		Cap:  model,
		Log:  log.WithField("model", model.Model),
	}
	f.SetCapability(model)
	return f
}

// OpenFunctionGenerator creates a generator from an address understood by ConnMaker
func OpenFunctionGenerator(addr string, model Capability, log logrus.FieldLogger) (*FunctionGenerator, error) {
	maker, err := ConnMaker(addr, 3*time.Second)
	if err != nil {
		return nil, err
	}
	return NewFunctionGenerator(maker, model, log), nil
}

// SetCapability replaces the model description and the point pacing derived from it
func (f *FunctionGenerator) SetCapability(model Capability) {
	f.Cap = model
	if model.PointDelay > 0 {
		f.limiter = rate.NewLimiter(rate.Every(model.PointDelay), 1)
	} else {
		f.limiter = rate.NewLimiter(rate.Inf, 1)
	}
}

// Close releases the connection to the generator
func (f *FunctionGenerator) Close() error {
	return f.Pool.Close()
}

func (f *FunctionGenerator) checkChannel(ch int) error {
	if ch < 1 || ch > f.Cap.Channels {
		return fmt.Errorf("%s has no channel %d", f.Cap.Model, ch)
	}
	return nil
}

func (f *FunctionGenerator) write(settle time.Duration, cmds ...string) error {
	for _, cmd := range cmds {
		if err := f.Write(cmd); err != nil {
			return err
		}
		if settle > 0 {
			time.Sleep(settle)
		}
	}
	return nil
}

// Identification returns the identity string of the generator
func (f *FunctionGenerator) Identification() (string, error) {
	resp, err := f.ReadString(f.Cap.IdentifyCmd)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(resp, "\x00 "), nil
}

// Reset restores the default configuration
func (f *FunctionGenerator) Reset() error {
	return f.write(f.Cap.Settle, ":SYST:PRESET DEFAULT")
}

// Unlock allows the front panel to be unlocked with the Help key.  The keys
// lock whenever the generator is driven over USB
func (f *FunctionGenerator) Unlock() error {
	return f.write(f.Cap.Settle, ":SYST:KLOC:STATE OFF")
}

// Output turns a channel output on or off
func (f *FunctionGenerator) Output(ch int, on bool) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	state := "OFF"
	if on {
		state = "ON"
	}
	return f.write(f.Cap.Settle, fmt.Sprintf(":OUTP%d %s", ch, state))
}

// OutputState reports whether the output of a channel is on
func (f *FunctionGenerator) OutputState(ch int) (bool, error) {
	if err := f.checkChannel(ch); err != nil {
		return false, err
	}
	return f.ReadBool(fmt.Sprintf(":OUTP%d?", ch))
}

func (f *FunctionGenerator) apply(ch int, shape string, freq, ampl, offset, phase float64) string {
	return fmt.Sprintf(":SOURCE%d:APPL:%s %s,%s,%s,%s", ch, shape, num(freq), num(ampl), num(offset), num(phase))
}

// SetSine outputs a sine of frequency freq (Hz), peak to peak amplitude ampl
// (V), offset (V) and phase (degrees)
func (f *FunctionGenerator) SetSine(ch int, freq, ampl, offset, phase float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	return f.write(f.Cap.Settle, f.apply(ch, "SIN", freq, ampl, offset, phase))
}

func edges(high, low, period, delay float64) (freq, ampl, offset, phase float64, err error) {
	if period <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("period %g must be positive", period)
	}
	return 1 / period, high - low, (high + low) / 2, delay / period * 360, nil
}

// SetSquare outputs a square wave between low and high (V) with the given
// period and delay (s)
func (f *FunctionGenerator) SetSquare(ch int, high, low, period, delay float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	freq, ampl, offset, phase, err := edges(high, low, period, delay)
	if err != nil {
		return err
	}
	return f.write(f.Cap.Settle, f.apply(ch, "SQU", freq, ampl, offset, phase))
}

// SetPulse is SetSquare with a duty cycle in percent
func (f *FunctionGenerator) SetPulse(ch int, high, low, period, duty, delay float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	freq, ampl, offset, phase, err := edges(high, low, period, delay)
	if err != nil {
		return err
	}
	return f.write(f.Cap.Settle,
		f.apply(ch, "PULSE", freq, ampl, offset, phase),
		fmt.Sprintf(":SOURCE%d:FUNCTION:PULSE:DCYCLE %s", ch, num(duty)))
}

// SetRamp outputs a ramp with the given period (s), amplitude and offset (V),
// phase (degrees) and symmetry (percent)
func (f *FunctionGenerator) SetRamp(ch int, period, ampl, offset, phase, symm float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if period <= 0 {
		return fmt.Errorf("period %g must be positive", period)
	}
	return f.write(f.Cap.Settle,
		f.apply(ch, "RAMP", 1/period, ampl, offset, phase),
		fmt.Sprintf(":SOURCE%d:FUNCTION:RAMP:SYMM %s", ch, num(symm)))
}

// SetArbitrary switches a channel to arbitrary output with the sample rate
// (Sa/s), peak to peak amplitude and offset (V).  It does not define the wave
func (f *FunctionGenerator) SetArbitrary(ch int, sampleRate int, ampl, offset float64) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	return f.write(f.Cap.ArbSettle, fmt.Sprintf(":SOURCE%d:APPL:ARB %d,%s,%s", ch, sampleRate, num(ampl), num(offset)))
}

// VolatilePoints returns the number of points in volatile memory
func (f *FunctionGenerator) VolatilePoints(ch int) (int, error) {
	if err := f.checkChannel(ch); err != nil {
		return 0, err
	}
	return f.ReadInt(fmt.Sprintf(":SOUR%d:DATA:POINTS? VOLATILE", ch))
}

// SetVolatilePoints sizes volatile memory to n points
func (f *FunctionGenerator) SetVolatilePoints(ch, n int) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	return f.write(f.Cap.LoadSettle, fmt.Sprintf(":SOUR%d:TRACE:DATA:POIN VOLATILE,%d", ch, n))
}

// SetVolatileValue writes code to position i (1-based) of volatile memory.
// Writes are paced to Cap.PointDelay
func (f *FunctionGenerator) SetVolatileValue(ctx context.Context, ch, i int, code uint16) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	return f.Write(fmt.Sprintf(":SOUR%d:DATA:VAL VOLATILE,%d,%d", ch, i, code))
}

// ArbSettings is a waveform prepared for upload to volatile memory
type ArbSettings struct {
	SampleRate int      `json:"sampleRate"`
	Amplitude  float64  `json:"amplitude"`
	Offset     float64  `json:"offset"`
	Codes      []uint16 `json:"-"`
}

func roundMilli(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// PrepareVolatile converts a voltage waveform v sampled at times t into the
// channel settings and 14-bit codes of an arbitrary waveform.  The samples are
// assumed evenly spaced
func PrepareVolatile(t, v []float64) (ArbSettings, error) {
	if len(t) != len(v) {
		return ArbSettings{}, fmt.Errorf("time and voltage vectors differ in length, %d and %d", len(t), len(v))
	}
	if len(t) < 2 {
		return ArbSettings{}, errors.New("an arbitrary waveform needs at least two points")
	}
	dt := t[1] - t[0]
	if dt <= 0 {
		return ArbSettings{}, fmt.Errorf("time step %g must be positive", dt)
	}
	lo, hi := v[0], v[0]
	for _, x := range v[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	span := hi - lo
	if span == 0 {
		return ArbSettings{}, errors.New("flat waveform has no amplitude to scale to")
	}
	out := ArbSettings{
		SampleRate: int(math.Round(1 / dt)),
		Amplitude:  roundMilli(span),
		Offset:     roundMilli((hi + lo) / 2),
		Codes:      make([]uint16, len(v)),
	}
	for i, x := range v {
		out.Codes[i] = Quantize((x - lo) / span)
	}
	return out, nil
}

// LoadVolatile uploads the waveform v sampled at times t to volatile memory,
// one point at a time.  Uploads of thousands of points take minutes;
// cancelling ctx stops between points
func (f *FunctionGenerator) LoadVolatile(ctx context.Context, ch int, t, v []float64) (ArbSettings, error) {
	if err := f.checkChannel(ch); err != nil {
		return ArbSettings{}, err
	}
	arb, err := PrepareVolatile(t, v)
	if err != nil {
		return arb, err
	}
	log := f.Log.WithField("channel", ch)
	log.WithFields(logrus.Fields{
		"rate":      arb.SampleRate,
		"amplitude": arb.Amplitude,
		"offset":    arb.Offset,
		"points":    len(arb.Codes),
	}).Info("loading arbitrary waveform")
	if err = f.SetArbitrary(ch, arb.SampleRate, arb.Amplitude, arb.Offset); err != nil {
		return arb, err
	}
	time.Sleep(f.Cap.LoadSettle)
	if err = f.accepted("arbitrary output settings"); err != nil {
		return arb, err
	}
	if err = f.SetVolatilePoints(ch, len(arb.Codes)); err != nil {
		return arb, err
	}
	if err = f.accepted("volatile point count"); err != nil {
		return arb, err
	}
	for i, code := range arb.Codes {
		n := i + 1
		if n%50 == 0 {
			log.WithFields(logrus.Fields{"point": n, "value": code}).Debug("loading point")
		}
		if err = f.SetVolatileValue(ctx, ch, n, code); err != nil {
			return arb, errors.Wrapf(err, "loading point %d of %d", n, len(arb.Codes))
		}
	}
	return arb, f.accepted("waveform points")
}

// accepted checks the error queue after the step of an upload named what.
// The queue is read once; a single rejected command is enough to spoil the
// waveform
func (f *FunctionGenerator) accepted(what string) error {
	if err := f.PopError(); err != nil {
		return errors.Wrapf(err, "%s", what)
	}
	return nil
}

// CopyStoredVolatile loads the waveform stored as VOL.RAF into volatile memory
func (f *FunctionGenerator) CopyStoredVolatile() error {
	return f.write(f.Cap.Settle, ":DATA:COPY VOL.RAF,VOLATILE")
}

// VolatileCatalog lists the stored waveforms of a channel
func (f *FunctionGenerator) VolatileCatalog(ch int) (string, error) {
	if err := f.checkChannel(ch); err != nil {
		return "", err
	}
	return f.ReadString(fmt.Sprintf("SOURCE%d:DATA:CAT?", ch))
}

// ErrNoDetails is returned when the generator does not describe its
// waveform, as happens in arbitrary mode or shortly after power on
var ErrNoDetails = errors.New("no waveform details returned, the channel may be in arbitrary mode or recently rebooted")

// WaveformDetails returns the generator's description of the current waveform
func (f *FunctionGenerator) WaveformDetails(ch int) (string, error) {
	if err := f.checkChannel(ch); err != nil {
		return "", err
	}
	resp, err := f.ReadString(fmt.Sprintf(":SOUR%d:APPL?", ch))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp) == "" {
		return "", ErrNoDetails
	}
	return resp, nil
}

// BurstConfig describes an N cycle burst
type BurstConfig struct {
	Cycles int `json:"cycles"`

	// TriggerSource is INT, EXT or MAN
	TriggerSource string `json:"triggerSource"`

	// Period is the internal trigger period in s, used only with INT
	Period float64 `json:"period"`

	// Delay is the delay from trigger to burst in s
	Delay float64 `json:"delay"`

	// IdleLevel sets the level between bursts from the waveform's minimum (0)
	// to its maximum (PointRange)
	IdleLevel int `json:"idleLevel"`
}

// Burst enables triggered N cycle burst mode on a channel
func (f *FunctionGenerator) Burst(ch int, b BurstConfig) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	src := strings.ToUpper(b.TriggerSource)
	switch src {
	case "INT", "EXT", "MAN":
	default:
		return fmt.Errorf("burst trigger source %q must be INT, EXT, or MAN", b.TriggerSource)
	}
	if b.Cycles < 1 {
		return fmt.Errorf("burst of %d cycles", b.Cycles)
	}
	if b.IdleLevel < 0 || b.IdleLevel > PointRange {
		return fmt.Errorf("idle level %d outside [0,%d]", b.IdleLevel, PointRange)
	}
	pre := fmt.Sprintf(":SOURCE%d:BURST:", ch)
	cmds := []string{
		pre + "MODE TRIG",
		pre + "NCYCL " + fmt.Sprint(b.Cycles),
		pre + "TRIG:SOURCE " + src,
	}
	if src == "INT" {
		cmds = append(cmds, pre+"INT:PER "+num(b.Period))
	}
	cmds = append(cmds,
		pre+"TDEL "+num(b.Delay),
		pre+"IDEL "+fmt.Sprint(b.IdleLevel),
		pre+"STATE ON")
	return f.write(f.Cap.Settle, cmds...)
}

// SendTrigger sends a software trigger to a channel in burst mode
func (f *FunctionGenerator) SendTrigger(ch int) error {
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	return f.Write(fmt.Sprintf(":SOURCE%d:BURST:TRIGGER:IMM", ch))
}
