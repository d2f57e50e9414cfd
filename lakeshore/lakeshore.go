/*Package lakeshore provides tools for working with Lakeshore 331 temperature
controllers over RS232, usually through a USB-RS232 adapter at /dev/ttyUSB0.
*/
package lakeshore

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
	"github.com/coldatomlab/labctl/temperature"
)

// per the Lakeshore 331 manual, the temperature controller serial interface
// uses the following schema:

// baud 300, 1200, or 9600
// 10 bits per character, 1 start 7 data, 1 parity, 1 stop
// odd parity
// terminator CRLF
// < 20 commands per second

// command messages look like <command><space><parameter data><terminators>
// query messages look like <query mnemonic><?><space><parameter data><terminators>

const frameSize = 128

// SerConf returns the serial configuration of a 331 at addr
func SerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        7,
		Parity:      serial.ParityOdd,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}

// Controller is a Lakeshore 331
type Controller struct {
	pool    *comm.Pool
	limiter *rate.Limiter
	timeout time.Duration
	Log     logrus.FieldLogger
}

// NewController returns a controller talking over connections made by maker
func NewController(maker comm.CreationFunc, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		pool:    comm.NewPool(1, time.Minute, maker),
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		timeout: 2 * time.Second,
		Log:     log,
	}
}

// Open returns a controller on a serial port, or on a host:port portserver
func Open(addr string, log logrus.FieldLogger) *Controller {
	if strings.Contains(addr, ":") && !strings.HasPrefix(addr, "/") {
		return NewController(comm.BackingOffTCPConnMaker(addr, 2*time.Second), log)
	}
	return NewController(comm.SerialConnMaker(SerConf(addr)), log)
}

// Close releases the serial port
func (c *Controller) Close() error {
	return c.pool.Close()
}

func (c *Controller) query(cmd string) (resp string, err error) {
	if err = c.limiter.Wait(context.Background()); err != nil {
		return "", err
	}
	conn, err := c.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { c.pool.ReturnWithError(conn, err) }()
	rw := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), conn, c.timeout)
	if _, err = io.WriteString(rw, cmd+"\r"); err != nil {
		return "", errors.Wrapf(err, "writing %s", cmd)
	}
	buf := make([]byte, frameSize)
	n, err := rw.Read(buf)
	if err != nil {
		return "", errors.Wrapf(err, "reading reply to %s", cmd)
	}
	resp = strings.TrimRight(string(buf[:n]), "\r")
	c.Log.WithFields(logrus.Fields{"cmd": cmd, "resp": resp}).Debug("lakeshore query")
	return resp, nil
}

func (c *Controller) queryFloat(cmd string) (float64, error) {
	resp, err := c.query(cmd)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, &scpi.ParseError{Cmd: cmd, Resp: resp, Err: err}
	}
	return f, nil
}

func checkInput(input string) (string, error) {
	input = strings.ToUpper(input)
	if input != "A" && input != "B" {
		return "", fmt.Errorf("input %q must be A or B", input)
	}
	return input, nil
}

func checkLoop(loop int) error {
	if loop != 1 && loop != 2 {
		return fmt.Errorf("loop %d must be 1 or 2", loop)
	}
	return nil
}

// Identification returns the *IDN? string of the controller
func (c *Controller) Identification() (string, error) {
	return c.query("*IDN?")
}

// Temperature reads input A or B in Kelvin
func (c *Controller) Temperature(input string) (temperature.Kelvin, error) {
	input, err := checkInput(input)
	if err != nil {
		return 0, err
	}
	f, err := c.queryFloat("KRDG? " + input)
	return temperature.Kelvin(f), err
}

// SensorUnits reads input A or B in sensor units, V for a diode
func (c *Controller) SensorUnits(input string) (float64, error) {
	input, err := checkInput(input)
	if err != nil {
		return 0, err
	}
	return c.queryFloat("SRDG? " + input)
}

// JunctionTemp reads the thermocouple junction temperature
func (c *Controller) JunctionTemp() (temperature.Kelvin, error) {
	f, err := c.queryFloat("TEMP?")
	return temperature.Kelvin(f), err
}

// HeaterOutput reads the heater output in %
func (c *Controller) HeaterOutput() (float64, error) {
	return c.queryFloat("HTR?")
}

// HeaterStatus reads the heater error status
func (c *Controller) HeaterStatus() (string, error) {
	status, err := c.query("HTRST?")
	if err != nil {
		return "", err
	}
	switch strings.TrimSpace(status) {
	case "0":
		return "OK", nil
	case "1":
		return "OPEN", nil
	case "2":
		return "SHORT", nil
	}
	return "", &scpi.ParseError{Cmd: "HTRST?", Resp: status, Err: errors.New("unknown heater status")}
}

// Setpoint reads the setpoint of a control loop
func (c *Controller) Setpoint(loop int) (float64, error) {
	if err := checkLoop(loop); err != nil {
		return 0, err
	}
	return c.queryFloat("SETP? " + strconv.Itoa(loop))
}

// PID holds the control loop constants
type PID struct {
	// P is the proportional gain
	P float64 `json:"p"`

	// I is the integral (reset) term
	I float64 `json:"i"`

	// D is the derivative (rate) term
	D float64 `json:"d"`
}

// PID reads the PID constants of a control loop
func (c *Controller) PID(loop int) (PID, error) {
	if err := checkLoop(loop); err != nil {
		return PID{}, err
	}
	cmd := "PID? " + strconv.Itoa(loop)
	txt, err := c.query(cmd)
	if err != nil {
		return PID{}, err
	}
	pieces := strings.Split(txt, ",")
	if len(pieces) != 3 {
		return PID{}, &scpi.ParseError{Cmd: cmd, Resp: txt, Err: errors.New("expected three values")}
	}
	numeric := make([]float64, 3)
	for i, v := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return PID{}, &scpi.ParseError{Cmd: cmd, Resp: txt, Err: err}
		}
		numeric[i] = f
	}
	return PID{P: numeric[0], I: numeric[1], D: numeric[2]}, nil
}
