// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/coldatomlab/labctl/comm"
)

const (
	// DefaultTimeout is used when SCPI.Timeout is zero
	DefaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// ParseError is returned when a reply does not parse as the expected type
type ParseError struct {
	Cmd  string
	Resp string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed reply %q to %s: %v", e.Resp, e.Cmd, e.Err)
}

// Unwrap returns the underlying parse failure
func (e *ParseError) Unwrap() error { return e.Err }

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Timeout bounds every read and write; zero means DefaultTimeout
	Timeout time.Duration

	// Settle is waited between writing a query and reading its reply.
	// Rigol instruments drop queries that are read back too quickly
	Settle time.Duration
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// Write sends a command to the device.  Nothing is read back; use PopError
// to learn whether the device accepted it
func (s *SCPI) Write(cmds ...string) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), conn, s.timeout())
	_, err = io.WriteString(wrap, strings.Join(cmds, " "))
	if err != nil {
		return errors.Wrapf(err, "writing %s", strings.Join(cmds, " "))
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), conn, s.timeout())
	cmd := strings.Join(cmds, " ")
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return resp, errors.Wrapf(err, "writing %s", cmd)
	}
	if s.Settle > 0 {
		time.Sleep(s.Settle)
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return resp, errors.Wrapf(err, "reading reply to %s", cmd)
	}
	return buf[:n], nil
}

// ReadBinary sends a command and reads exactly n bytes of reply, waiting
// settle between the two.  The reply is not searched for a terminator.
// Fewer than n bytes is a *comm.TruncatedReadError
func (s *SCPI) ReadBinary(n int, settle time.Duration, cmds ...string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	cmd := strings.Join(cmds, " ")
	_, err = io.WriteString(comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), conn, s.timeout()), cmd)
	if err != nil {
		return resp, errors.Wrapf(err, "writing %s", cmd)
	}
	if settle > 0 {
		time.Sleep(settle)
	}
	resp, err = comm.ReadFull(comm.NewTimeout(conn, conn, s.timeout()), n)
	if err != nil {
		return resp, errors.Wrapf(err, "reading reply to %s", cmd)
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, &ParseError{Cmd: strings.Join(cmds, " "), Resp: resp, Err: err}
	}
	return f, nil
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean.  ON and OFF are accepted in addition
// to the forms understood by strconv
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch resp {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	b, err := strconv.ParseBool(resp)
	if err != nil {
		return false, &ParseError{Cmd: strings.Join(cmds, " "), Resp: resp, Err: err}
	}
	return b, nil
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, &ParseError{Cmd: strings.Join(cmds, " "), Resp: resp, Err: err}
	}
	return i, nil
}

// DeviceError is an entry from the instrument's error queue
type DeviceError struct {
	Msg string
}

func (e *DeviceError) Error() string {
	return "device reported " + e.Msg
}

// PopError gets a single error from the queue on the device.  An empty queue
// is nil; a transport failure is returned as is
func (s *SCPI) PopError() error {
	str, err := s.ReadString(":SYST:ERR?")
	if err != nil {
		return err
	}
	str = strings.TrimSpace(str)
	if strings.HasPrefix(str, "+0") || strings.HasPrefix(str, "0") {
		return nil
	}
	return &DeviceError{Msg: str}
}
