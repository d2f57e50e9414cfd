package tmc

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coldatomlab/labctl/generichttp"
	"github.com/coldatomlab/labctl/rigol"
	"github.com/coldatomlab/labctl/server"
)

// FunctionGenerator is a two channel generator with Rigol DG semantics
type FunctionGenerator interface {
	Identification() (string, error)
	Output(ch int, on bool) error
	OutputState(ch int) (bool, error)
	SetSine(ch int, freq, ampl, offset, phase float64) error
	SetSquare(ch int, high, low, period, delay float64) error
	LoadVolatile(ctx context.Context, ch int, t, v []float64) (rigol.ArbSettings, error)
	WaveformDetails(ch int) (string, error)
	Burst(ch int, b rigol.BurstConfig) error
	SendTrigger(ch int) error
}

// HTTPFunctionGenerator wraps a generator in an HTTP route table
type HTTPFunctionGenerator struct {
	Gen FunctionGenerator

	RouteTable generichttp.RouteTable
}

// NewHTTPFunctionGenerator returns a new HTTP wrapper around a generator
func NewHTTPFunctionGenerator(fg FunctionGenerator) HTTPFunctionGenerator {
	h := HTTPFunctionGenerator{Gen: fg}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/identification"}: generichttp.GetString(fg.Identification),
		{Method: http.MethodGet, Path: "/details"}:        h.details,
		{Method: http.MethodPost, Path: "/output"}:        h.output,
		{Method: http.MethodPost, Path: "/sine"}:          h.sine,
		{Method: http.MethodPost, Path: "/square"}:        h.square,
		{Method: http.MethodPost, Path: "/arb"}:           h.arb,
		{Method: http.MethodPost, Path: "/burst"}:         h.burst,
		{Method: http.MethodPost, Path: "/trigger"}:       h.trigger,
	}
	// /output/1 and /output/2 read and set one channel as {"bool": on}
	for _, ch := range []int{1, 2} {
		ch := ch
		path := "/output/" + strconv.Itoa(ch)
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = generichttp.GetBool(func() (bool, error) {
			return fg.OutputState(ch)
		})
		h.RouteTable[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = generichttp.SetBool(func(on bool) error {
			return fg.Output(ch, on)
		})
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPFunctionGenerator) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPFunctionGenerator) reply(w http.ResponseWriter, err error) {
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPFunctionGenerator) details(w http.ResponseWriter, r *http.Request) {
	ch, err := queryInt(r, "ch", 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s, err := h.Gen.WaveformDetails(ch)
	if err != nil {
		if err == rigol.ErrNoDetails {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		fail(w, err)
		return
	}
	server.WriteJSON(w, map[string]string{"str": s})
}

func (h HTTPFunctionGenerator) output(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch int  `json:"ch"`
		On bool `json:"on"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, h.Gen.Output(req.Ch, req.On))
}

func (h HTTPFunctionGenerator) sine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch     int     `json:"ch"`
		Freq   float64 `json:"freq"`
		Ampl   float64 `json:"ampl"`
		Offset float64 `json:"offset"`
		Phase  float64 `json:"phase"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, h.Gen.SetSine(req.Ch, req.Freq, req.Ampl, req.Offset, req.Phase))
}

func (h HTTPFunctionGenerator) square(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch     int     `json:"ch"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Period float64 `json:"period"`
		Delay  float64 `json:"delay"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, h.Gen.SetSquare(req.Ch, req.High, req.Low, req.Period, req.Delay))
}

// arb uploads {"ch": 1, "t": [...], "v": [...]} to volatile memory.  The
// upload is cancelled if the client goes away
func (h HTTPFunctionGenerator) arb(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch int       `json:"ch"`
		T  []float64 `json:"t"`
		V  []float64 `json:"v"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.T) != len(req.V) || len(req.T) < 2 {
		http.Error(w, "t and v must be equal length with at least two points", http.StatusBadRequest)
		return
	}
	arb, err := h.Gen.LoadVolatile(r.Context(), req.Ch, req.T, req.V)
	if err != nil {
		fail(w, err)
		return
	}
	server.WriteJSON(w, arb)
}

func (h HTTPFunctionGenerator) burst(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch int `json:"ch"`
		rigol.BurstConfig
	}
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, h.Gen.Burst(req.Ch, req.BurstConfig))
}

func (h HTTPFunctionGenerator) trigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ch int `json:"ch"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.reply(w, h.Gen.SendTrigger(req.Ch))
}
