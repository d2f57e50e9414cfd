package rigol

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/scpi/scpitest"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newTestScope(peer *scpitest.Peer) *Scope {
	s := NewScope(peer.Maker(), nil, quietLogger())
	s.SetDelays(Delays{})
	s.Timeout = 200 * time.Millisecond
	return s
}

func newTestGenerator(peer *scpitest.Peer, model Capability) *FunctionGenerator {
	model.PointDelay, model.Settle, model.ArbSettle, model.LoadSettle = 0, 0, 0, 0
	f := NewFunctionGenerator(peer.Maker(), model, quietLogger())
	f.Timeout = 200 * time.Millisecond
	return f
}

// commandsAfter waits for the peer to record trailing commands and returns all of them
func commandsAfter(peer *scpitest.Peer) []string {
	time.Sleep(20 * time.Millisecond)
	return peer.Commands()
}

func indexOf(cmds []string, cmd string) int {
	for i, c := range cmds {
		if c == cmd {
			return i
		}
	}
	return -1
}

// waveform is a :WAV:DATA? reply of n bytes, header included, every sample
// holding value
func waveform(n int, value byte) []byte {
	b := make([]byte, n)
	for i := HeaderLen; i < n; i++ {
		b[i] = value
	}
	return b
}
