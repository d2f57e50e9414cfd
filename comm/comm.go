/*Package comm provides the transport layer shared by the instrument packages.

Instruments are reached through a Pool of io.ReadWriteClosers.  The pool is
filled by a CreationFunc; this package provides makers for the transports used
in the lab:

	BackingOffTCPConnMaker  "host:port", e.g. a scope's LAN port or a portserver
	SerialConnMaker         RS232 or a USB-RS232 adapter, via tarm/serial
	FileConnMaker           the Linux usbtmc character device, e.g. /dev/usbtmc0

A minimal example for a sensor that responds to "RD?" with a single number,
terminated by a newline:

	pool := comm.NewPool(1, time.Minute, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(conn, '\n', '\n')
	_, err = io.WriteString(rw, "RD?")
	...

Errors returned by this package can be inspected with errors.Is / errors.As:
ErrTimeout for an expired deadline, *ConnectionError when a connection could
not be opened, and *TruncatedReadError when a fixed-length read came up short.
*/
package comm

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a nil connection is used.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrTimeout is generated when the remote does not respond before the deadline
	ErrTimeout = errors.New("timeout waiting for remote")
)

// ConnectionError is returned when a connection to the remote could not be opened
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying cause
func (e *ConnectionError) Unwrap() error { return e.Err }

// TruncatedReadError is returned when fewer bytes than expected arrive
type TruncatedReadError struct {
	Want int
	Got  int
	Err  error
}

func (e *TruncatedReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("truncated read: got %d of %d bytes: %v", e.Got, e.Want, e.Err)
	}
	return fmt.Sprintf("truncated read: got %d of %d bytes", e.Got, e.Want)
}

// Unwrap returns the underlying cause, if any
func (e *TruncatedReadError) Unwrap() error { return e.Err }

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// IsTimeout reports whether err is a transport timeout, from a network
// deadline or from the kernel usbtmc driver
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Classify maps raw transport errors onto the package's taxonomy.
// Timeouts become ErrTimeout (wrapped with the original message), everything
// else is returned unchanged
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if IsTimeout(err) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

// ReadFull reads exactly n bytes from r.  A short read is a *TruncatedReadError;
// a read that returned nothing before the deadline is ErrTimeout
func ReadFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err == nil {
		return buf, nil
	}
	if got == 0 && IsTimeout(err) {
		return nil, Classify(err)
	}
	return buf[:got], &TruncatedReadError{Want: n, Got: got, Err: Classify(err)}
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Refused connections are not retried; the instrument is
// not listening and thrashing it will not help
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, &ConnectionError{Addr: addr, Err: Classify(err)}
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens the serial port described by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, &ConnectionError{Addr: conf.Name, Err: err}
		}
		return port, nil
	}
}

// FileConnMaker returns a CreationFunc that opens a character device such as
// /dev/usbtmc0 for reading and writing
func FileConnMaker(path string) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, &ConnectionError{Addr: path, Err: err}
		}
		return f, nil
	}
}

// Terminator wraps a ReadWriter, appending the Tx byte to every write and
// stripping the Rx byte from every read
type Terminator struct {
	rw io.ReadWriter
	tx byte
	rx byte
}

// NewTerminator returns a Terminator around rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write sends b followed by the Tx terminator in a single write
func (t *Terminator) Write(b []byte) (int, error) {
	msg := make([]byte, len(b), len(b)+1)
	copy(msg, b)
	msg = append(msg, t.tx)
	n, err := t.rw.Write(msg)
	if n > len(b) {
		n = len(b)
	}
	return n, Classify(err)
}

// Read reads until the Rx terminator is seen or p is full.  The terminator
// is not included in the returned count.  If p fills before the terminator
// arrives, ErrTerminatorNotFound is returned with the data
func (t *Terminator) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := t.rw.Read(p[n:])
		n += m
		if idx := bytes.IndexByte(p[:n], t.rx); idx >= 0 {
			return idx, nil
		}
		if err != nil {
			return n, Classify(err)
		}
	}
	return n, ErrTerminatorNotFound
}

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Timeout refreshes the read and write deadline of a connection before every
// operation.  Connections without deadlines rely on their own timeouts
type Timeout struct {
	rw      io.ReadWriter
	conn    deadliner
	timeout time.Duration
}

// NewTimeout wraps rw.  conn is the connection whose deadlines are refreshed,
// usually the value obtained from the Pool; it may be nil
func NewTimeout(rw io.ReadWriter, conn interface{}, timeout time.Duration) *Timeout {
	d, _ := conn.(deadliner)
	return &Timeout{rw: rw, conn: d, timeout: timeout}
}

func (t *Timeout) Read(p []byte) (int, error) {
	if t.conn != nil {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	}
	n, err := t.rw.Read(p)
	return n, Classify(err)
}

func (t *Timeout) Write(p []byte) (int, error) {
	if t.conn != nil {
		t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	n, err := t.rw.Write(p)
	return n, Classify(err)
}
