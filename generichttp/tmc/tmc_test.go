package tmc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/generichttp"
	"github.com/coldatomlab/labctl/oscilloscope"
	"github.com/coldatomlab/labctl/rigol"
	"github.com/coldatomlab/labctl/scpi"
	"github.com/coldatomlab/labctl/temperature"
	"github.com/coldatomlab/labctl/wavemeter"
)

type fakeScope struct {
	sess     rigol.Session
	readErr  error
	lastSel  rigol.Selection
	stopping bool
	runs     int
}

func (f *fakeScope) Refresh() (rigol.Session, error) { return f.sess, nil }
func (f *fakeScope) ReadWaveform(sel rigol.Selection, stopping bool) (oscilloscope.Trace, error) {
	f.lastSel, f.stopping = sel, stopping
	if f.readErr != nil {
		return oscilloscope.Trace{}, f.readErr
	}
	tr := oscilloscope.Trace{Time: []float64{0, 1e-6}}
	for _, ch := range sel.Channels() {
		tr.Channels = append(tr.Channels, oscilloscope.Column{Name: "CH" + string(rune('0'+ch)), Volts: []float64{0.5, -0.5}})
	}
	return tr, nil
}
func (f *fakeScope) AcqMode() (rigol.AcqMode, error) { return f.sess.AcqMode, nil }
func (f *fakeScope) SetAcqMode(m rigol.AcqMode) error {
	if _, err := rigol.ParseAcqMode(string(m)); err != nil {
		return err
	}
	f.sess.AcqMode = m
	return nil
}
func (f *fakeScope) MemDepth() (rigol.MemDepth, error) { return f.sess.MemDepth, nil }
func (f *fakeScope) SetMemDepth(d rigol.MemDepth) error { f.sess.MemDepth = d; return nil }
func (f *fakeScope) TimeScale() (float64, error) { return f.sess.TimeScale, nil }
func (f *fakeScope) SetTimeScale(v float64) error { f.sess.TimeScale = v; return nil }
func (f *fakeScope) TimeOffset() (float64, error) { return f.sess.TimeOffset, nil }
func (f *fakeScope) SetTimeOffset(v float64) error { f.sess.TimeOffset = v; return nil }
func (f *fakeScope) ChannelCount() (int, error) { return f.sess.Channels, nil }
func (f *fakeScope) SetChannelCount(n int) error { f.sess.Channels = n; return nil }
func (f *fakeScope) SetTrigger(source, sweep string) error { return nil }
func (f *fakeScope) Run() error { f.runs++; return nil }
func (f *fakeScope) Stop() error { return nil }
func (f *fakeScope) ForceTrigger() error { return nil }

func router(h generichttp.HTTPer) chi.Router {
	r := chi.NewRouter()
	h.RT().Bind(r)
	return r
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, strings.NewReader(body)))
	return w
}

func TestWaveformCSV(t *testing.T) {
	s := &fakeScope{}
	r := router(NewHTTPScope(s))
	w := serve(r, http.MethodGet, "/waveform?ch=both", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if lines[0] != "Time (s),CH1,CH2" || len(lines) != 3 {
		t.Errorf("unexpected CSV %q", lines)
	}
	if s.lastSel != rigol.Both || !s.stopping {
		t.Errorf("expected both channels with stopping, got %v %v", s.lastSel, s.stopping)
	}

	serve(r, http.MethodGet, "/waveform?ch=2&stop=false", "")
	if s.lastSel != rigol.Channel2 || s.stopping {
		t.Errorf("expected CH2 without stopping, got %v %v", s.lastSel, s.stopping)
	}
}

func TestWaveformErrors(t *testing.T) {
	s := &fakeScope{}
	r := router(NewHTTPScope(s))
	if w := serve(r, http.MethodGet, "/waveform?ch=3", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for channel 3, got %d", w.Code)
	}
	s.readErr = &rigol.UnsupportedConfigurationError{Mode: rigol.AcqRaw, Depth: rigol.DepthLong, Channels: 0}
	if w := serve(r, http.MethodGet, "/waveform", ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for an unsupported configuration, got %d", w.Code)
	}
	s.readErr = comm.ErrTimeout
	if w := serve(r, http.MethodGet, "/waveform", ""); w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504 for a timeout, got %d", w.Code)
	}
	s.readErr = &comm.TruncatedReadError{Want: 610, Got: 100}
	if w := serve(r, http.MethodGet, "/waveform", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a truncated read, got %d", w.Code)
	}
	s.readErr = &scpi.DeviceError{Msg: `-221,"Settings conflict"`}
	if w := serve(r, http.MethodGet, "/waveform", ""); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a command the device rejected, got %d", w.Code)
	}
}

func TestScopeSettings(t *testing.T) {
	s := &fakeScope{sess: rigol.Session{Channels: 1, AcqMode: rigol.AcqNormal, MemDepth: rigol.DepthNormal, TimeScale: 1e-3}}
	r := router(NewHTTPScope(s))
	if w := serve(r, http.MethodPost, "/acq-mode", `{"str": "RAW"}`); w.Code != http.StatusOK {
		t.Fatalf("set acq mode failed with %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/acq-mode", `{"str": "raw"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected lowercase mode to be rejected, got %d", w.Code)
	}
	w := serve(r, http.MethodGet, "/session", "")
	if !strings.Contains(w.Body.String(), `"acqMode":"RAW"`) {
		t.Errorf("session does not show the new mode: %s", w.Body.String())
	}
	serve(r, http.MethodPost, "/run", "")
	if s.runs != 1 {
		t.Errorf("expected one run, got %d", s.runs)
	}
}

type fakeGen struct {
	ch   int
	on   bool
	t, v []float64
}

func (f *fakeGen) Identification() (string, error) { return "DG1032", nil }
func (f *fakeGen) Output(ch int, on bool) error { f.ch, f.on = ch, on; return nil }
func (f *fakeGen) OutputState(ch int) (bool, error) { return f.on && f.ch == ch, nil }
func (f *fakeGen) SetSine(ch int, freq, ampl, offset, phase float64) error { f.ch = ch; return nil }
func (f *fakeGen) SetSquare(ch int, high, low, period, delay float64) error { return nil }
func (f *fakeGen) LoadVolatile(ctx context.Context, ch int, t, v []float64) (rigol.ArbSettings, error) {
	f.ch, f.t, f.v = ch, t, v
	return rigol.PrepareVolatile(t, v)
}
func (f *fakeGen) WaveformDetails(ch int) (string, error) {
	if ch == 2 {
		return "", rigol.ErrNoDetails
	}
	return "SIN,1000,1,0,0", nil
}
func (f *fakeGen) Burst(ch int, b rigol.BurstConfig) error { return nil }
func (f *fakeGen) SendTrigger(ch int) error { return nil }

func TestOutputByChannel(t *testing.T) {
	g := &fakeGen{}
	r := router(NewHTTPFunctionGenerator(g))
	if w := serve(r, http.MethodPost, "/output/2", `{"bool": true}`); w.Code != http.StatusOK {
		t.Fatalf("set output failed with %d", w.Code)
	}
	if g.ch != 2 || !g.on {
		t.Errorf("expected channel 2 on, got channel %d on=%v", g.ch, g.on)
	}
	w := serve(r, http.MethodGet, "/output/2", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"bool":true`) {
		t.Errorf("unexpected output state reply %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/output/1", ""); !strings.Contains(w.Body.String(), `"bool":false`) {
		t.Errorf("channel 1 should be off, got %s", w.Body.String())
	}
	if w := serve(r, http.MethodPost, "/output/1", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", w.Code)
	}
}

func TestArbUpload(t *testing.T) {
	g := &fakeGen{}
	r := router(NewHTTPFunctionGenerator(g))
	w := serve(r, http.MethodPost, "/arb", `{"ch": 2, "t": [0, 0.001, 0.002], "v": [0, 1, 2]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if g.ch != 2 || len(g.v) != 3 {
		t.Errorf("upload not passed through: ch %d, %d points", g.ch, len(g.v))
	}
	if !strings.Contains(w.Body.String(), `"sampleRate":1000`) {
		t.Errorf("expected settings in reply, got %s", w.Body.String())
	}
	if w := serve(r, http.MethodPost, "/arb", `{"ch": 1, "t": [0, 1], "v": [0]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for mismatched vectors, got %d", w.Code)
	}
}

func TestDetails(t *testing.T) {
	r := router(NewHTTPFunctionGenerator(&fakeGen{}))
	if w := serve(r, http.MethodGet, "/details?ch=1", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "SIN") {
		t.Errorf("unexpected details reply %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/details?ch=2", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without details, got %d", w.Code)
	}
}

type fakeTherm map[string]temperature.Kelvin

func (f fakeTherm) Temperature(input string) (temperature.Kelvin, error) { return f[input], nil }

func TestTemperatureUnits(t *testing.T) {
	r := router(NewHTTPThermometer(fakeTherm{"A": 273.15, "B": 4.2}))
	if w := serve(r, http.MethodGet, "/temperature/B", ""); strings.TrimSpace(w.Body.String()) != `{"f64":4.2}` {
		t.Errorf("unexpected kelvin reply %s", w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/temperature/A?unit=C", ""); strings.TrimSpace(w.Body.String()) != `{"f64":0}` {
		t.Errorf("unexpected celsius reply %s", w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/temperature/A?unit=R", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown unit, got %d", w.Code)
	}
}

type fakeMeter struct{ err error }

func (f fakeMeter) Read() (wavemeter.Reading, error) {
	return wavemeter.Reading{Wavelength: 780.241, Display: 0x2A49, System: 0x0200}, f.err
}
func (f fakeMeter) Press(string) error { return nil }

func TestWavelength(t *testing.T) {
	w := serve(router(NewHTTPWavemeter(fakeMeter{})), http.MethodGet, "/wavelength", "")
	if !strings.Contains(w.Body.String(), `"wavelength":780.241`) || !strings.Contains(w.Body.String(), "units nm") {
		t.Errorf("unexpected reply %s", w.Body.String())
	}
	w = serve(router(NewHTTPWavemeter(fakeMeter{err: wavemeter.ErrLowSignal})), http.MethodGet, "/wavelength", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 on low signal, got %d", w.Code)
	}
}
