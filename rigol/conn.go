/*Package rigol provides control of the Rigol DS1102E oscilloscope and the
DG1032 and DG4162 function generators.

The centerpiece is waveform readout from the scope.  The number of bytes the
scope returns and the span of time they represent both depend on the
acquisition mode, memory depth, number of displayed channels and the
horizontal scale; Scope.Plan resolves them before any data is requested.

Instruments are addressed with a string:

	/dev/usbtmc0          the Linux usbtmc character device
	usb:1ab1:0588         raw USBTMC through libusb, vendor:product
	192.168.1.10:5555     TCP, for units on a LAN adapter or portserver
*/
package rigol

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/usbtmc"
)

// USB bulk endpoint numbers used by the DS1000E and DG1000 series
const (
	USBInEndpoint  = 2
	USBOutEndpoint = 1
)

// ConnMaker returns the CreationFunc for an instrument address
func ConnMaker(addr string, timeout time.Duration) (comm.CreationFunc, error) {
	switch {
	case strings.HasPrefix(addr, "/dev/"):
		return comm.FileConnMaker(addr), nil
	case strings.HasPrefix(addr, "usb:"):
		pieces := strings.Split(strings.TrimPrefix(addr, "usb:"), ":")
		if len(pieces) != 2 {
			return nil, errors.Errorf("USB address %q is not usb:vendor:product", addr)
		}
		vid, err := strconv.ParseUint(pieces[0], 16, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "vendor ID of %q", addr)
		}
		pid, err := strconv.ParseUint(pieces[1], 16, 16)
		if err != nil {
			return nil, errors.Wrapf(err, "product ID of %q", addr)
		}
		return usbtmc.ConnMaker(gousb.ID(vid), gousb.ID(pid), USBInEndpoint, USBOutEndpoint), nil
	case addr == "":
		return nil, errors.New("empty instrument address")
	default:
		return comm.BackingOffTCPConnMaker(addr, timeout), nil
	}
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
