/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, enough to talk SCPI to Rigol instruments without
the kernel usbtmc driver or a VISA installation.

It does not implement the optional USB488 subclass features (status byte,
remote/local, trigger), nor abort/clear recovery; a failed transfer is
surfaced and the caller is expected to reopen the device.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Create a read header and send it on the Out endpoint
2.  Read from the In endpoint until the transfer size in the response header
    has arrived

These are implemented as Write() and Read() on USBDevice, which is an
io.ReadWriteCloser and so can back a comm.Pool.

On Linux the kernel driver exposes the same protocol as /dev/usbtmcN; use
comm.FileConnMaker for that path instead.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"
)

const (
	// reserved is the byte to insert in reserved header fields
	reserved = 0x00

	// headerLen is the length of every bulk transfer header
	headerLen = 12

	// alignment is the multiple every bulk out transfer is padded to
	alignment = 4

	msgDevDepMsgOut       = 0x01
	msgRequestDevDepMsgIn = 0x02
)

// Rigol USB identifiers
const (
	RigolVID gousb.ID = 0x1ab1

	// DS1000EPID is the product ID of the DS1000E/D series (DS1102E)
	DS1000EPID gousb.ID = 0x0588
)

// BTagger can generate bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 1, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min { // wrapped through zero, which is not a legal tag
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	/* data map by offset:
	0 MsgID, DEV_DEP_MSG_OUT
	1 bTag, unique and incrementing with each message
	2 bTagInverse
	3 Reserved (0x00)
	4-7 transferSize, LSB first, exclusive of header and alignment
	8 bitmap, bit 0 EOM
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = msgDevDepMsgOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // always a complete message
	return out
}

// encBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	tag := btag.nextbTag()
	out[0] = msgRequestDevDepMsgIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// frame prepends the bulk out header to b and pads to the alignment
func frame(btag BTagger, b []byte) []byte {
	hdr := encBulkOutHeader(btag, len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	return msg
}

// transferSize extracts the payload length from a bulk in response header
func transferSize(hdr []byte) (int, error) {
	if len(hdr) < headerLen {
		return 0, fmt.Errorf("only received %d bytes, need at least %d to form header", len(hdr), headerLen)
	}
	if hdr[0] != msgRequestDevDepMsgIn {
		return 0, fmt.Errorf("unexpected MsgID %#x in bulk in header", hdr[0])
	}
	if hdr[2] != invbTag(hdr[1]) {
		return 0, fmt.Errorf("corrupt bTag %#x/%#x in bulk in header", hdr[1], hdr[2])
	}
	return int(binary.LittleEndian.Uint32(hdr[4:8])), nil
}

// USBDevice hides the details of USB and exposes an io.ReadWriteCloser
type USBDevice struct {
	tagger BTagger
	ctx    *gousb.Context
	device *gousb.Device
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()
}

// NewUSBDevice opens a device from its vendor and product ID and claims the
// bulk endpoints.  Endpoint numbers differ between models; read them from
// lsusb -v
func NewUSBDevice(vid, pid gousb.ID, inEp, outEp int) (*USBDevice, error) {
	d := &USBDevice{tagger: newBTagGen(), ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("no USB device with ID %s:%s", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.Close()
		return nil, err
	}
	var iface *gousb.Interface
	iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	if d.in, err = iface.InEndpoint(inEp); err != nil {
		d.Close()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(outEp); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Read requests up to len(p) bytes from the device and copies the payload,
// without the USBTMC header, into p
func (d *USBDevice) Read(p []byte) (int, error) {
	hdr := encBulkInHeader(d.tagger, len(p), nil)
	if _, err := d.out.Write(hdr[:]); err != nil {
		return 0, err
	}
	buf := make([]byte, len(p)+headerLen+alignment)
	n, err := d.in.Read(buf)
	if err != nil {
		return 0, err
	}
	size, err := transferSize(buf[:n])
	if err != nil {
		return 0, err
	}
	data := buf[headerLen:n]
	for len(data) < size {
		m, err := d.in.Read(buf)
		if err != nil {
			return copy(p, data), err
		}
		data = append(data, buf[:m]...)
	}
	if size < len(data) {
		data = data[:size] // alignment padding
	}
	n = copy(p, data)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write frames b in a single DEV_DEP_MSG_OUT transfer
func (d *USBDevice) Write(b []byte) (int, error) {
	_, err := d.out.Write(frame(d.tagger, b))
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close releases the interface, the device and the USB context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		d.ctx.Close()
	}
	return err
}

// ConnMaker returns a function suitable for comm.NewPool that opens the
// device each time the pool needs a connection
func ConnMaker(vid, pid gousb.ID, inEp, outEp int) func() (io.ReadWriteCloser, error) {
	return func() (io.ReadWriteCloser, error) {
		return NewUSBDevice(vid, pid, inEp, outEp)
	}
}
