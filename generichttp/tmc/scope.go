package tmc

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/coldatomlab/labctl/generichttp"
	"github.com/coldatomlab/labctl/oscilloscope"
	"github.com/coldatomlab/labctl/rigol"
	"github.com/coldatomlab/labctl/server"
)

// Oscilloscope is a digital storage scope with Rigol DS1000E semantics
type Oscilloscope interface {
	Refresh() (rigol.Session, error)
	ReadWaveform(sel rigol.Selection, stopping bool) (oscilloscope.Trace, error)

	AcqMode() (rigol.AcqMode, error)
	SetAcqMode(rigol.AcqMode) error
	MemDepth() (rigol.MemDepth, error)
	SetMemDepth(rigol.MemDepth) error
	TimeScale() (float64, error)
	SetTimeScale(float64) error
	TimeOffset() (float64, error)
	SetTimeOffset(float64) error
	ChannelCount() (int, error)
	SetChannelCount(int) error
	SetTrigger(source, sweep string) error

	Run() error
	Stop() error
	ForceTrigger() error
}

// HTTPScope wraps an oscilloscope in an HTTP route table
type HTTPScope struct {
	Scope Oscilloscope

	RouteTable generichttp.RouteTable
}

// NewHTTPScope returns a new HTTP wrapper around a scope
func NewHTTPScope(s Oscilloscope) HTTPScope {
	h := HTTPScope{Scope: s}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/session"}:  h.session,
		{Method: http.MethodGet, Path: "/waveform"}: h.waveform,

		{Method: http.MethodGet, Path: "/acq-mode"}:  generichttp.GetString(func() (string, error) { m, err := s.AcqMode(); return string(m), err }),
		{Method: http.MethodPost, Path: "/acq-mode"}: generichttp.SetString(func(v string) error { return s.SetAcqMode(rigol.AcqMode(v)) }),

		{Method: http.MethodGet, Path: "/mem-depth"}:  generichttp.GetString(func() (string, error) { d, err := s.MemDepth(); return string(d), err }),
		{Method: http.MethodPost, Path: "/mem-depth"}: generichttp.SetString(func(v string) error { return s.SetMemDepth(rigol.MemDepth(v)) }),

		{Method: http.MethodGet, Path: "/time-scale"}:   generichttp.GetFloat(s.TimeScale),
		{Method: http.MethodPost, Path: "/time-scale"}:  generichttp.SetFloat(s.SetTimeScale),
		{Method: http.MethodGet, Path: "/time-offset"}:  generichttp.GetFloat(s.TimeOffset),
		{Method: http.MethodPost, Path: "/time-offset"}: generichttp.SetFloat(s.SetTimeOffset),
		{Method: http.MethodGet, Path: "/channels"}:     generichttp.GetInt(s.ChannelCount),
		{Method: http.MethodPost, Path: "/channels"}:    generichttp.SetInt(s.SetChannelCount),
		{Method: http.MethodPost, Path: "/trigger"}:     h.trigger,

		{Method: http.MethodPost, Path: "/run"}:           generichttp.Do(s.Run),
		{Method: http.MethodPost, Path: "/stop"}:          generichttp.Do(s.Stop),
		{Method: http.MethodPost, Path: "/force-trigger"}: generichttp.Do(s.ForceTrigger),
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPScope) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPScope) session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Scope.Refresh()
	if err != nil {
		fail(w, err)
		return
	}
	server.WriteJSON(w, sess)
}

func (h HTTPScope) trigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Sweep  string `json:"sweep"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := h.Scope.SetTrigger(req.Source, req.Sweep); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// waveform serves GET /waveform?ch=1|2|both&stop=true&format=csv|png
func (h HTTPScope) waveform(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chs := q.Get("ch")
	if chs == "" {
		chs = "1"
	}
	sel, err := rigol.ParseSelection(chs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stopping := true
	if s := q.Get("stop"); s != "" {
		if stopping, err = strconv.ParseBool(s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	tr, err := h.Scope.ReadWaveform(sel, stopping)
	if err != nil {
		fail(w, err)
		return
	}
	var buf bytes.Buffer
	switch q.Get("format") {
	case "", "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = tr.EncodeCSV(&buf)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		err = oscilloscope.WritePNG(tr, &buf)
	default:
		http.Error(w, "format must be csv or png", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
