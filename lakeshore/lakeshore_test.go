package lakeshore

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coldatomlab/labctl/scpi"
	"github.com/coldatomlab/labctl/scpi/scpitest"
)

func testController(replies map[string]string) (*Controller, *scpitest.Peer) {
	peer := scpitest.NewPeer(replies)
	log := logrus.New()
	log.Out = io.Discard
	return NewController(peer.Maker(), log), peer
}

func TestTemperature(t *testing.T) {
	c, peer := testController(map[string]string{"KRDG? A": "+077.350\r"})
	defer peer.Close()
	k, err := c.Temperature("a")
	if err != nil {
		t.Fatal(err)
	}
	if k != 77.35 {
		t.Errorf("expected 77.35 K, got %v", k)
	}
	if _, err := c.Temperature("C"); err == nil {
		t.Error("expected input C to be rejected")
	}
}

func TestJunctionTemp(t *testing.T) {
	c, peer := testController(map[string]string{"TEMP?": "+295.120\r"})
	defer peer.Close()
	k, err := c.JunctionTemp()
	if err != nil || k != 295.12 {
		t.Errorf("expected 295.12, nil; got %v, %v", k, err)
	}
}

func TestPID(t *testing.T) {
	c, peer := testController(map[string]string{"PID? 1": "+0050.0,+0020.0,+000.0\r", "PID? 2": "+0050.0\r"})
	defer peer.Close()
	pid, err := c.PID(1)
	if err != nil {
		t.Fatal(err)
	}
	if pid != (PID{P: 50, I: 20, D: 0}) {
		t.Errorf("unexpected PID %+v", pid)
	}
	_, err = c.PID(2)
	var pe *scpi.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("expected *scpi.ParseError for a short reply, got %v", err)
	}
}

func TestHeaterStatus(t *testing.T) {
	c, peer := testController(map[string]string{"HTRST?": "1\r"})
	defer peer.Close()
	s, err := c.HeaterStatus()
	if err != nil || s != "OPEN" {
		t.Errorf("expected OPEN, nil; got %s, %v", s, err)
	}
}
