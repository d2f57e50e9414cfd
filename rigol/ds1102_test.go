package rigol

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/scpi"
	"github.com/coldatomlab/labctl/scpi/scpitest"
)

func sessionPeer(ch2, mode, depth, tscale string) *scpitest.Peer {
	return scpitest.NewPeer(map[string]string{
		":CHAN1:DISP?":    "ON",
		":CHAN2:DISP?":    ch2,
		":WAV:POIN:MODE?": mode,
		":ACQ:MEMD?":      depth,
		":TIM:SCAL?":      tscale,
		":TIM:OFFS?":      "0.000e+00",
		":CHAN1:SCAL?":    "1.000e+00",
		":CHAN1:OFFS?":    "0.000e+00",
		":CHAN2:SCAL?":    "2.000e+00",
		":CHAN2:OFFS?":    "5.000e-01",
	})
}

func TestRefreshQueriesBothChannels(t *testing.T) {
	peer := sessionPeer("ON", "RAW", "LONG", "1.000e-04")
	defer peer.Close()
	s := newTestScope(peer)
	sess, err := s.Refresh()
	if err != nil {
		t.Fatal(err)
	}
	want := Session{Channels: 2, AcqMode: AcqRaw, MemDepth: DepthLong, TimeScale: 100e-6}
	if sess != want {
		t.Errorf("expected %+v, got %+v", want, sess)
	}
	if !peer.Sent(":CHAN2:DISP?") {
		t.Error("channel 2 display state was not queried")
	}
	if s.Session() != sess {
		t.Error("refresh did not update the session")
	}
}

func TestRefreshIsCaseSensitive(t *testing.T) {
	peer := sessionPeer("OFF", "normal", "NORMAL", "1.000e-03")
	defer peer.Close()
	s := newTestScope(peer)
	_, err := s.Refresh()
	var pe *scpi.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *scpi.ParseError, got %v", err)
	}
	if pe.Cmd != ":WAV:POIN:MODE?" {
		t.Errorf("expected the mode query to fail, got %s", pe.Cmd)
	}
	if s.Session() != (Session{}) {
		t.Error("failed refresh modified the session")
	}
}

func TestReadWaveformNormal(t *testing.T) {
	peer := sessionPeer("OFF", "NORMAL", "LONG", "1.000e-03")
	defer peer.Close()
	peer.ReplyBytes(":WAV:DATA? CHAN1", waveform(610, 130))
	s := newTestScope(peer)
	tr, err := s.ReadWaveform(Channel1, true)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 600 {
		t.Errorf("expected 600 samples, got %d", tr.Len())
	}
	if len(tr.Channels) != 1 || tr.Channels[0].Volts[0] != -0.2 {
		t.Errorf("unexpected decode %+v", tr.Channels)
	}
	if peer.Sent(":STOP") {
		t.Error("scope was stopped for a screen readout")
	}
}

func TestBothChannelsUseOwnCalibration(t *testing.T) {
	peer := sessionPeer("ON", "NORMAL", "NORMAL", "1.000e-03")
	defer peer.Close()
	peer.ReplyBytes(":WAV:DATA? CHAN1", waveform(610, 130))
	peer.ReplyBytes(":WAV:DATA? CHAN2", waveform(610, 130))
	s := newTestScope(peer)
	tr, err := s.ReadWaveform(Both, true)
	if err != nil {
		t.Fatal(err)
	}
	ch1, _ := tr.Column("CH1")
	ch2, _ := tr.Column("CH2")
	if ch1.Volts[0] != -0.2 {
		t.Errorf("CH1: expected -0.2, got %g", ch1.Volts[0])
	}
	// ((255-130) - 130 - 0.5/2*25) / 25 * 2
	if want := -0.9; ch2.Volts[0] != want {
		t.Errorf("CH2: expected %g, got %g", want, ch2.Volts[0])
	}
	var buf bytes.Buffer
	if err := tr.EncodeCSV(&buf); err != nil {
		t.Fatal(err)
	}
	header := strings.SplitN(buf.String(), "\n", 2)[0]
	if header != "Time (s),CH1,CH2" {
		t.Errorf("unexpected header %q", header)
	}
}

func TestUnsupportedConfigurationSendsNothing(t *testing.T) {
	peer := scpitest.NewPeer(nil)
	defer peer.Close()
	s := newTestScope(peer)
	sess := Session{Channels: 1, AcqMode: AcqRaw, MemDepth: DepthLong, TimeScale: 3e-3}
	_, err := s.Acquire(sess, Channel1, true)
	if !errors.Is(err, ErrUnsupportedConfiguration) {
		t.Fatalf("expected ErrUnsupportedConfiguration, got %v", err)
	}
	if cmds := commandsAfter(peer); len(cmds) != 0 {
		t.Errorf("expected no commands, sent %v", cmds)
	}
}

func TestRawReadStopsAndResumes(t *testing.T) {
	peer := sessionPeer("ON", "RAW", "NORMAL", "1.000e-03")
	defer peer.Close()
	peer.ReplyBytes(":WAV:DATA? CHAN1", waveform(8202, 100))
	s := newTestScope(peer)
	tr, err := s.ReadWaveform(Channel1, true)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 8192 {
		t.Errorf("expected 8192 samples, got %d", tr.Len())
	}
	// 2 channels at 1 ms/div in normal memory spans 33 divisions
	if span := tr.Time[1] - tr.Time[0]; span*8192 < 32.9e-3 || span*8192 > 33.1e-3 {
		t.Errorf("expected a 33 ms record, got %g", span*8192)
	}
	cmds := commandsAfter(peer)
	stop, read, run := indexOf(cmds, ":STOP"), indexOf(cmds, ":WAV:DATA? CHAN1"), indexOf(cmds, ":RUN")
	if stop < 0 || read < stop || run < read {
		t.Errorf("expected :STOP, read, :RUN in order, got %v", cmds)
	}
	if scale := indexOf(cmds, ":CHAN1:SCAL?"); scale > stop {
		t.Error("vertical scale was queried after the scope was stopped")
	}
}

func TestNoStopWhenNotStopping(t *testing.T) {
	peer := sessionPeer("ON", "RAW", "NORMAL", "1.000e-03")
	defer peer.Close()
	peer.ReplyBytes(":WAV:DATA? CHAN1", waveform(8202, 100))
	s := newTestScope(peer)
	if _, err := s.ReadWaveform(Channel1, false); err != nil {
		t.Fatal(err)
	}
	cmds := commandsAfter(peer)
	if indexOf(cmds, ":STOP") >= 0 || indexOf(cmds, ":RUN") >= 0 {
		t.Errorf("expected no :STOP or :RUN, got %v", cmds)
	}
}

func TestRunSentAfterTruncatedRead(t *testing.T) {
	peer := sessionPeer("ON", "RAW", "NORMAL", "1.000e-03")
	defer peer.Close()
	peer.ReplyBytes(":WAV:DATA? CHAN1", waveform(100, 100))
	s := newTestScope(peer)
	s.Timeout = 50 * time.Millisecond
	_, err := s.ReadWaveform(Channel1, true)
	var te *comm.TruncatedReadError
	if !errors.As(err, &te) {
		t.Fatalf("expected *comm.TruncatedReadError, got %v", err)
	}
	if te.Want != 8202 || te.Got != 100 {
		t.Errorf("expected 100 of 8202 bytes, error reports %d of %d", te.Got, te.Want)
	}
	if cmds := commandsAfter(peer); indexOf(cmds, ":RUN") < 0 {
		t.Errorf("acquisition was not resumed, sent %v", cmds)
	}
}

func TestSetChannelCount(t *testing.T) {
	peer := scpitest.NewPeer(nil)
	defer peer.Close()
	s := newTestScope(peer)
	if err := s.SetChannelCount(1); err != nil {
		t.Fatal(err)
	}
	cmds := commandsAfter(peer)
	if len(cmds) != 2 || cmds[0] != ":CHAN1:DISP ON" || cmds[1] != ":CHAN2:DISP OFF" {
		t.Errorf("unexpected commands %v", cmds)
	}
	if s.Session().Channels != 1 {
		t.Errorf("expected session to hold 1 channel, got %d", s.Session().Channels)
	}
	if err := s.SetChannelCount(3); err == nil {
		t.Error("expected 3 channels to be rejected")
	}
}

func TestSetTriggerValidates(t *testing.T) {
	peer := scpitest.NewPeer(nil)
	defer peer.Close()
	s := newTestScope(peer)
	if err := s.SetTrigger("ext", "sing"); err != nil {
		t.Fatal(err)
	}
	cmds := commandsAfter(peer)
	if indexOf(cmds, ":TRIG:EDGE:SOUR EXT") < 0 || indexOf(cmds, ":TRIG:EDGE:SWE SING") < 0 {
		t.Errorf("unexpected commands %v", cmds)
	}
	if err := s.SetTrigger("CH3", "AUTO"); err == nil {
		t.Error("expected unknown source to be rejected")
	}
}

func TestReadoutInfo(t *testing.T) {
	long := Session{AcqMode: AcqRaw, MemDepth: DepthLong}.ReadoutInfo()
	if !strings.Contains(long, "several seconds") {
		t.Errorf("expected a long readout warning, got %q", long)
	}
	normal := Session{AcqMode: AcqNormal}.ReadoutInfo()
	if !strings.Contains(normal, "600 points") {
		t.Errorf("expected the point count, got %q", normal)
	}
}

func TestPlanRejectsBadSelection(t *testing.T) {
	_, err := Plan(Session{AcqMode: AcqNormal}, DefaultTimebaseTable(), Selection(7))
	if !errors.Is(err, ErrBadSelection) {
		t.Errorf("expected ErrBadSelection, got %v", err)
	}
}
