package usbtmc

import (
	"encoding/binary"
	"testing"
)

type fixedTag byte

func (f fixedTag) nextbTag() byte { return byte(f) }

func TestBTagGenSkipsZero(t *testing.T) {
	g := newBTagGen()
	for i := 0; i < 600; i++ {
		if tag := g.nextbTag(); tag == 0 {
			t.Fatalf("bTag 0 is reserved, generated on iteration %d", i)
		}
	}
}

func TestBulkOutHeader(t *testing.T) {
	hdr := encBulkOutHeader(fixedTag(7), 10)
	if hdr[0] != msgDevDepMsgOut {
		t.Errorf("expected MsgID %d, got %d", msgDevDepMsgOut, hdr[0])
	}
	if hdr[1] != 7 || hdr[2] != 0xf8 {
		t.Errorf("expected bTag 7 and inverse 0xf8, got %#x %#x", hdr[1], hdr[2])
	}
	if size := binary.LittleEndian.Uint32(hdr[4:8]); size != 10 {
		t.Errorf("expected transfer size 10, got %d", size)
	}
	if hdr[8] != 1 {
		t.Error("expected EOM bit to be set")
	}
}

func TestBulkInHeaderTerminator(t *testing.T) {
	term := byte('\n')
	hdr := encBulkInHeader(fixedTag(3), 1048586, &term)
	if hdr[0] != msgRequestDevDepMsgIn {
		t.Errorf("expected MsgID %d, got %d", msgRequestDevDepMsgIn, hdr[0])
	}
	if size := binary.LittleEndian.Uint32(hdr[4:8]); size != 1048586 {
		t.Errorf("expected request size 1048586, got %d", size)
	}
	if hdr[8] != 0x02 || hdr[9] != '\n' {
		t.Errorf("expected terminator enabled with 0x0a, got %#x %#x", hdr[8], hdr[9])
	}
}

func TestFramePadsToAlignment(t *testing.T) {
	msg := frame(fixedTag(1), []byte(":TIM:SCAL?"))
	if len(msg)%alignment != 0 {
		t.Errorf("framed message length %d is not a multiple of %d", len(msg), alignment)
	}
	if got := string(msg[headerLen : headerLen+10]); got != ":TIM:SCAL?" {
		t.Errorf("payload corrupted by framing, got %q", got)
	}
}

func TestTransferSizeRejectsBadTag(t *testing.T) {
	hdr := make([]byte, headerLen)
	hdr[0] = msgRequestDevDepMsgIn
	hdr[1] = 5
	hdr[2] = 5
	if _, err := transferSize(hdr); err == nil {
		t.Error("expected corrupt bTag to be rejected")
	}
	hdr[2] = invbTag(5)
	binary.LittleEndian.PutUint32(hdr[4:8], 610)
	n, err := transferSize(hdr)
	if err != nil || n != 610 {
		t.Errorf("expected 610, nil; got %d, %v", n, err)
	}
}
