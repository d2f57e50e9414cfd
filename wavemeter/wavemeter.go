/*Package wavemeter provides control of a Burleigh WA-1500 wavemeter over RS232.

Commands are single hexadecimal codes framed as @<code>\r\n.  The meter boots
broadcasting a reading continuously; SetQueryMode makes it answer on request
only.  Readings are 23-character fixed-field strings:

	+ 632.9911,2A49,0200

holding the wavelength (or a status such as LO SIG), the display LED word and
the system LED word, both hexadecimal.  A leading ~ in place of + marks a
possibly multimode input.
*/
package wavemeter

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
)

var (
	// ErrLowSignal is returned when the input is too weak to measure
	ErrLowSignal = errors.New("wavemeter signal too low")

	// ErrHighSignal is returned when the input saturates the detector
	ErrHighSignal = errors.New("wavemeter signal too high")
)

// Buttons maps front panel buttons to their command codes
var Buttons = map[string]string{
	"save":               "0E",
	"reset":              "0F",
	"manual deattenuate": "10",
	"manual attenuate":   "11",
	"auto attenuate":     "13",
	"humidity":           "20",
	"pressure":           "21",
	"temperature":        "22",
	"# averaged":         "23",
	"analog res":         "24",
	"display res":        "25",
	"setpoint":           "26",
	"units":              "27",
	"display":            "28",
	"medium":             "29",
	"resolution":         "2A",
	"averaging":          "2B",
}

// DisplayLEDs are the masks of the display LED word.  The unit masks
// span more than one bit
var DisplayLEDs = map[string]uint16{
	"units nm":           0x0009,
	"units cm-1":         0x0012,
	"units GHz":          0x0024,
	"display wavelength": 0x0040,
	"display deviation":  0x0080,
	"medium air":         0x0100,
	"medium vacuum":      0x0200,
	"resolution fixed":   0x0400,
	"resolution auto":    0x0800,
	"averaging on":       0x1000,
	"averaging off":      0x2000,
}

// SystemLEDs are the masks of the system LED word
var SystemLEDs = map[string]uint16{
	"display res":       0x0001,
	"setpoint":          0x0002,
	"# averaged":        0x0004,
	"analog res":        0x0008,
	"pressure":          0x0010,
	"temperature":       0x0020,
	"humidity":          0x0040,
	"setup":             0x0080,
	"remote":            0x0100,
	"attenuator auto":   0x0200,
	"attenuator manual": 0x0400,
}

func decode(word uint16, masks map[string]uint16) []string {
	var out []string
	for name, mask := range masks {
		if word&mask == mask {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// DecodeDisplay lists the lit display LEDs
func DecodeDisplay(word uint16) []string {
	return decode(word, DisplayLEDs)
}

// DecodeSystem lists the lit system LEDs
func DecodeSystem(word uint16) []string {
	return decode(word, SystemLEDs)
}

// Reading is a measurement from the wavemeter
type Reading struct {
	// Wavelength is in the display units, usually nm
	Wavelength float64 `json:"wavelength"`

	// Multimode is true when the meter flagged the input as possibly multimode
	Multimode bool `json:"multimode"`

	Display uint16 `json:"display"`
	System  uint16 `json:"system"`
}

// ParseReading decodes one reading line
func ParseReading(s string) (Reading, error) {
	s = strings.TrimRight(s, "\r\n")
	switch {
	case strings.Contains(s, "LO SIG"):
		return Reading{}, ErrLowSignal
	case strings.Contains(s, "HI SIG"):
		return Reading{}, ErrHighSignal
	}
	fields := strings.Split(s, ",")
	var r Reading
	wl := fields[0]
	if strings.HasPrefix(wl, "~") {
		r.Multimode = true
	}
	wl = strings.TrimSpace(strings.TrimLeft(wl, "+~"))
	f, err := strconv.ParseFloat(wl, 64)
	if err != nil {
		return Reading{}, &scpi.ParseError{Cmd: "@Q", Resp: s, Err: err}
	}
	r.Wavelength = f
	if len(fields) == 3 {
		d, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 16, 16)
		if err != nil {
			return Reading{}, &scpi.ParseError{Cmd: "@Q", Resp: s, Err: err}
		}
		sys, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 16, 16)
		if err != nil {
			return Reading{}, &scpi.ParseError{Cmd: "@Q", Resp: s, Err: err}
		}
		r.Display, r.System = uint16(d), uint16(sys)
	}
	return r, nil
}

// SerConf returns the serial configuration of a WA-1500 at addr
func SerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        1200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}

// WA1500 is a Burleigh WA-1500 wavemeter
type WA1500 struct {
	pool    *comm.Pool
	timeout time.Duration
	Log     logrus.FieldLogger
}

// NewWA1500 returns a wavemeter talking over connections made by maker
func NewWA1500(maker comm.CreationFunc, log logrus.FieldLogger) *WA1500 {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WA1500{pool: comm.NewPool(1, time.Minute, maker), timeout: 2 * time.Second, Log: log}
}

// Open returns a wavemeter on a serial port, or behind a portserver if addr
// is host:port
func Open(addr string, log logrus.FieldLogger) *WA1500 {
	if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "/") {
		return NewWA1500(comm.BackingOffTCPConnMaker(addr, 2*time.Second), log)
	}
	return NewWA1500(comm.SerialConnMaker(SerConf(addr)), log)
}

// Close releases the serial port
func (w *WA1500) Close() error {
	return w.pool.Close()
}

func (w *WA1500) send(code string, reply bool) (resp string, err error) {
	conn, err := w.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { w.pool.ReturnWithError(conn, err) }()
	rw := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), conn, w.timeout)
	if _, err = io.WriteString(rw, "@"+code+"\r"); err != nil {
		return "", errors.Wrapf(err, "writing @%s", code)
	}
	if !reply {
		return "", nil
	}
	buf := make([]byte, 64)
	n, err := rw.Read(buf)
	if err != nil {
		return "", errors.Wrapf(err, "reading reply to @%s", code)
	}
	return strings.TrimRight(string(buf[:n]), "\r"), nil
}

// SetQueryMode stops the broadcast of readings; they are then sent only
// in reply to Read
func (w *WA1500) SetQueryMode() error {
	_, err := w.send("Q", false)
	return err
}

// Read requests and parses a reading
func (w *WA1500) Read() (Reading, error) {
	resp, err := w.send("Q", true)
	if err != nil {
		return Reading{}, err
	}
	r, err := ParseReading(resp)
	if err != nil {
		w.Log.WithError(err).WithField("resp", resp).Warn("bad wavemeter reading")
		return r, err
	}
	if r.Multimode {
		w.Log.WithField("wavelength", r.Wavelength).Info("wavemeter input is possibly multimode")
	}
	return r, nil
}

// Press simulates pressing a front panel button
func (w *WA1500) Press(button string) error {
	code, ok := Buttons[strings.ToLower(button)]
	if !ok {
		return fmt.Errorf("wavemeter has no button %q", button)
	}
	_, err := w.send(code, false)
	return err
}
