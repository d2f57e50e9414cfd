package rigol

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/oscilloscope"
	"github.com/coldatomlab/labctl/scpi"
)

// Delays are the settle times the DS1000E needs between commands.  The scope
// has no operation-complete query, and answers too-quick reads with stale or
// missing data
type Delays struct {
	// Query is waited between writing a query and reading its reply
	Query time.Duration `koanf:"query" yaml:"query"`

	// Write is waited after a configuration command
	Write time.Duration `koanf:"write" yaml:"write"`

	// Stop is waited after :STOP before the memory is read
	Stop time.Duration `koanf:"stop" yaml:"stop"`

	// WaveRead is waited between :WAV:DATA? and reading the reply
	WaveRead time.Duration `koanf:"waveRead" yaml:"waveRead"`
}

// DefaultDelays are the settle times measured on a DS1102E over USB
func DefaultDelays() Delays {
	return Delays{
		Query:    100 * time.Millisecond,
		Write:    100 * time.Millisecond,
		Stop:     200 * time.Millisecond,
		WaveRead: 200 * time.Millisecond,
	}
}

// Scope is an interface to a DS1102E oscilloscope.
// It is not safe for concurrent use; callers serialize access
type Scope struct {
	scpi.SCPI

	// Table resolves the time span of a readout
	Table *TimebaseTable

	Delays Delays

	Log logrus.FieldLogger

	sess Session
}

// NewScope creates a new scope talking over connections made by maker.
// A nil table selects DefaultTimebaseTable, a nil log the standard logger
func NewScope(maker comm.CreationFunc, table *TimebaseTable, log logrus.FieldLogger) *Scope {
	if table == nil {
		table = DefaultTimebaseTable()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scope{
		SCPI:  scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker), Timeout: 5 * time.Second},
		Table: table,
		Log:   log,
	}
	s.SetDelays(DefaultDelays())
	return s
}

// Open creates a scope from an address understood by ConnMaker
func Open(addr string, table *TimebaseTable, log logrus.FieldLogger) (*Scope, error) {
	maker, err := ConnMaker(addr, 3*time.Second)
	if err != nil {
		return nil, err
	}
	return NewScope(maker, table, log), nil
}

// SetDelays replaces the settle times
func (s *Scope) SetDelays(d Delays) {
	s.Delays = d
	s.Settle = d.Query
}

// Close releases the connection to the scope
func (s *Scope) Close() error {
	return s.Pool.Close()
}

func (s *Scope) write(cmd string) error {
	if err := s.Write(cmd); err != nil {
		return err
	}
	if s.Delays.Write > 0 {
		time.Sleep(s.Delays.Write)
	}
	return nil
}

// Identification returns the *IDN? string of the scope
func (s *Scope) Identification() (string, error) {
	return s.ReadString("*IDN?")
}

// Reset restores the factory configuration
func (s *Scope) Reset() error {
	return s.write("*RST")
}

func parseDisplay(cmd, resp string) (bool, error) {
	switch resp {
	case "ON", "1":
		return true, nil
	case "OFF", "0":
		return false, nil
	}
	return false, &scpi.ParseError{Cmd: cmd, Resp: resp, Err: errors.New("expected ON or OFF")}
}

// ChannelDisplayed reports whether a channel is switched on
func (s *Scope) ChannelDisplayed(ch int) (bool, error) {
	cmd := fmt.Sprintf(":CHAN%d:DISP?", ch)
	resp, err := s.ReadString(cmd)
	if err != nil {
		return false, err
	}
	return parseDisplay(cmd, resp)
}

// ChannelCount returns the number of displayed channels
func (s *Scope) ChannelCount() (int, error) {
	n := 0
	for ch := 1; ch <= 2; ch++ {
		on, err := s.ChannelDisplayed(ch)
		if err != nil {
			return 0, err
		}
		if on {
			n++
		}
	}
	return n, nil
}

// AcqMode returns the waveform points mode
func (s *Scope) AcqMode() (AcqMode, error) {
	const cmd = ":WAV:POIN:MODE?"
	resp, err := s.ReadString(cmd)
	if err != nil {
		return "", err
	}
	m, err := ParseAcqMode(resp)
	if err != nil {
		return "", &scpi.ParseError{Cmd: cmd, Resp: resp, Err: err}
	}
	return m, nil
}

// MemDepth returns the acquisition memory depth
func (s *Scope) MemDepth() (MemDepth, error) {
	const cmd = ":ACQ:MEMD?"
	resp, err := s.ReadString(cmd)
	if err != nil {
		return "", err
	}
	d, err := ParseMemDepth(resp)
	if err != nil {
		return "", &scpi.ParseError{Cmd: cmd, Resp: resp, Err: err}
	}
	return d, nil
}

// TimeScale returns the horizontal scale in s/div
func (s *Scope) TimeScale() (float64, error) {
	return s.ReadFloat(":TIM:SCAL?")
}

// TimeOffset returns the horizontal offset in s
func (s *Scope) TimeOffset() (float64, error) {
	return s.ReadFloat(":TIM:OFFS?")
}

// VScale returns the vertical scale of a channel in V/div
func (s *Scope) VScale(ch int) (float64, error) {
	return s.ReadFloat(fmt.Sprintf(":CHAN%d:SCAL?", ch))
}

// VOffset returns the vertical offset of a channel in V
func (s *Scope) VOffset(ch int) (float64, error) {
	return s.ReadFloat(fmt.Sprintf(":CHAN%d:OFFS?", ch))
}

// Session returns the configuration as last read or written
func (s *Scope) Session() Session {
	return s.sess
}

// Refresh reads the configuration from the scope into the session.
// It does not change the state of the instrument.  The session is not
// modified if any query fails
func (s *Scope) Refresh() (Session, error) {
	var (
		sess Session
		err  error
	)
	if sess.Channels, err = s.ChannelCount(); err != nil {
		return s.sess, err
	}
	if sess.AcqMode, err = s.AcqMode(); err != nil {
		return s.sess, err
	}
	if sess.MemDepth, err = s.MemDepth(); err != nil {
		return s.sess, err
	}
	if sess.TimeScale, err = s.TimeScale(); err != nil {
		return s.sess, err
	}
	if sess.TimeOffset, err = s.TimeOffset(); err != nil {
		return s.sess, err
	}
	s.sess = sess
	s.Log.WithFields(logrus.Fields{
		"channels": sess.Channels,
		"mode":     sess.AcqMode,
		"depth":    sess.MemDepth,
		"scale":    sess.TimeScale,
		"offset":   sess.TimeOffset,
	}).Debug("refreshed scope session")
	return sess, nil
}

// SetChannelCount displays the first n channels and hides the rest
func (s *Scope) SetChannelCount(n int) error {
	if n < 0 || n > 2 {
		return fmt.Errorf("channel count %d must be 0, 1, or 2", n)
	}
	for ch := 1; ch <= 2; ch++ {
		state := "OFF"
		if ch <= n {
			state = "ON"
		}
		if err := s.write(fmt.Sprintf(":CHAN%d:DISP %s", ch, state)); err != nil {
			return err
		}
	}
	s.sess.Channels = n
	return nil
}

// SetAcqMode sets the waveform points mode
func (s *Scope) SetAcqMode(m AcqMode) error {
	if _, err := ParseAcqMode(string(m)); err != nil {
		return err
	}
	if err := s.write(":WAV:POIN:MODE " + string(m)); err != nil {
		return err
	}
	s.sess.AcqMode = m
	return nil
}

// SetMemDepth sets the acquisition memory depth
func (s *Scope) SetMemDepth(d MemDepth) error {
	if _, err := ParseMemDepth(string(d)); err != nil {
		return err
	}
	if err := s.write(":ACQ:MEMD " + string(d)); err != nil {
		return err
	}
	s.sess.MemDepth = d
	return nil
}

// SetVScale sets the vertical scale of a channel in V/div
func (s *Scope) SetVScale(ch int, v float64) error {
	return s.write(fmt.Sprintf(":CHAN%d:SCAL %s", ch, num(v)))
}

// SetVOffset sets the vertical offset of a channel in V
func (s *Scope) SetVOffset(ch int, v float64) error {
	return s.write(fmt.Sprintf(":CHAN%d:OFFS %s", ch, num(v)))
}

// SetProbe sets the probe attenuation of a channel, 1, 10 or 100
func (s *Scope) SetProbe(ch int, x int) error {
	switch x {
	case 1, 10, 100:
	default:
		return fmt.Errorf("probe attenuation %d must be 1, 10, or 100", x)
	}
	return s.write(fmt.Sprintf(":CHAN%d:PROB %d", ch, x))
}

// SetTimeScale sets the horizontal scale in s/div
func (s *Scope) SetTimeScale(v float64) error {
	if err := s.write(":TIM:SCAL " + num(v)); err != nil {
		return err
	}
	s.sess.TimeScale = v
	return nil
}

// SetTimeOffset sets the horizontal offset in s
func (s *Scope) SetTimeOffset(v float64) error {
	if err := s.write(":TIM:OFFS " + num(v)); err != nil {
		return err
	}
	s.sess.TimeOffset = v
	return nil
}

// SetTrigger configures edge triggering from source (INT, EXT, MAN) with
// the sweep mode (AUTO, NORM, SING).  Case is irrelevant
func (s *Scope) SetTrigger(source, sweep string) error {
	source, sweep = strings.ToUpper(source), strings.ToUpper(sweep)
	switch source {
	case "INT", "EXT", "MAN":
	default:
		return fmt.Errorf("trigger source %q must be INT, EXT, or MAN", source)
	}
	switch sweep {
	case "AUTO", "NORM", "SING":
	default:
		return fmt.Errorf("sweep mode %q must be AUTO, NORM, or SING", sweep)
	}
	for _, cmd := range []string{":TRIG:MODE EDGE", ":TRIG:EDGE:SOUR " + source, ":TRIG:EDGE:SWE " + sweep} {
		if err := s.write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// ForceTrigger sends a software trigger
func (s *Scope) ForceTrigger() error {
	return s.Write(":FORC")
}

// Stop halts acquisition
func (s *Scope) Stop() error {
	if err := s.Write(":STOP"); err != nil {
		return err
	}
	if s.Delays.Stop > 0 {
		time.Sleep(s.Delays.Stop)
	}
	return nil
}

// Run resumes acquisition
func (s *Scope) Run() error {
	return s.Write(":RUN")
}

// ReadoutInfo describes what a readout will return for the session
func (sess Session) ReadoutInfo() string {
	if sess.AcqMode == AcqRaw {
		if sess.MemDepth == DepthLong {
			return "using long memory depth, readout will take several seconds"
		}
		return "using normal memory depth"
	}
	return "acquisition mode is normal, 600 points will be collected"
}

// ReadoutInfo refreshes the session and logs what a readout will return
func (s *Scope) ReadoutInfo() (string, error) {
	sess, err := s.Refresh()
	if err != nil {
		return "", err
	}
	msg := sess.ReadoutInfo()
	s.Log.WithFields(logrus.Fields{"mode": sess.AcqMode, "depth": sess.MemDepth}).Info(msg)
	return msg, nil
}

// Readout is the resolved shape of a waveform read
type Readout struct {
	// Count is the number of bytes each :WAV:DATA? returns, header included
	Count int

	// Divisions is the number of horizontal divisions the samples span
	Divisions float64

	// Channels are read in order
	Channels []int

	// Stop is true when the scope must be halted so that its memory is
	// not overwritten during the read
	Stop bool
}

// Plan resolves the readout for a session without talking to the scope
func Plan(sess Session, table *TimebaseTable, sel Selection) (Readout, error) {
	chans := sel.Channels()
	if chans == nil {
		return Readout{}, errors.Wrapf(ErrBadSelection, "got %v", sel)
	}
	count, err := SampleCount(sess.AcqMode, sess.MemDepth, sess.Channels)
	if err != nil {
		return Readout{}, err
	}
	divs, err := table.Divisions(sess.AcqMode, sess.MemDepth, sess.Channels, sess.TimeScale)
	if err != nil {
		return Readout{}, err
	}
	return Readout{Count: count, Divisions: divs, Channels: chans, Stop: count > NormalSampleCount}, nil
}

// Acquire reads and decodes the selected channels for the given session.
// If the readout is larger than the screen and stopping is true, the scope is
// halted for the read and :RUN is sent afterwards, also when the read fails.
// Configurations with no known sample or division count fail before any
// command is sent
func (s *Scope) Acquire(sess Session, sel Selection, stopping bool) (tr oscilloscope.Trace, err error) {
	plan, err := Plan(sess, s.Table, sel)
	if err != nil {
		return tr, err
	}
	data := make([]ChannelData, len(plan.Channels))
	for i, ch := range plan.Channels {
		data[i].Channel = ch
		if data[i].Offset, err = s.VOffset(ch); err != nil {
			return tr, err
		}
		if data[i].Scale, err = s.VScale(ch); err != nil {
			return tr, err
		}
	}
	if plan.Stop && stopping {
		if err = s.Stop(); err != nil {
			return tr, err
		}
		defer func() {
			if rerr := s.Run(); rerr != nil {
				s.Log.WithError(rerr).Warn("could not resume acquisition after readout")
			}
		}()
	}
	for i := range data {
		start := time.Now()
		cmd := fmt.Sprintf(":WAV:DATA? CHAN%d", data[i].Channel)
		raw, err := s.ReadBinary(plan.Count, s.Delays.WaveRead, cmd)
		if err != nil {
			return tr, err
		}
		data[i].Raw = raw[HeaderLen:]
		s.Log.WithFields(logrus.Fields{
			"channel": data[i].Channel,
			"points":  len(data[i].Raw),
			"elapsed": time.Since(start),
		}).Debug("read waveform")
	}
	return Decode(sess, plan.Divisions, data), nil
}

// ReadWaveform refreshes the session and acquires the selected channels
func (s *Scope) ReadWaveform(sel Selection, stopping bool) (oscilloscope.Trace, error) {
	sess, err := s.Refresh()
	if err != nil {
		return oscilloscope.Trace{}, err
	}
	return s.Acquire(sess, sel, stopping)
}
