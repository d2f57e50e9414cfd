package tmc

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/coldatomlab/labctl/generichttp"
	"github.com/coldatomlab/labctl/server"
	"github.com/coldatomlab/labctl/temperature"
	"github.com/coldatomlab/labctl/wavemeter"
)

// Thermometer reads the temperature of a named input
type Thermometer interface {
	Temperature(input string) (temperature.Kelvin, error)
}

// HTTPThermometer wraps a thermometer in an HTTP route table
type HTTPThermometer struct {
	Therm Thermometer

	RouteTable generichttp.RouteTable
}

// NewHTTPThermometer returns a new HTTP wrapper around a thermometer.
// GET /temperature/{input}?unit=K|C|F returns {"f64": value}
func NewHTTPThermometer(t Thermometer) HTTPThermometer {
	h := HTTPThermometer{Therm: t}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/temperature/{input}"}: h.temperature,
	}
	if hs, ok := t.(interface {
		HeaterOutput() (float64, error)
	}); ok {
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/heater"}] = generichttp.GetFloat(hs.HeaterOutput)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPThermometer) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPThermometer) temperature(w http.ResponseWriter, r *http.Request) {
	unit := temperature.UnitKelvin
	if s := r.URL.Query().Get("unit"); s != "" {
		var err error
		if unit, err = temperature.ParseUnit(s); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	k, err := h.Therm.Temperature(chi.URLParam(r, "input"))
	if err != nil {
		fail(w, err)
		return
	}
	server.WriteJSON(w, map[string]float64{"f64": k.In(unit)})
}

// Wavemeter reads the wavelength of the input light
type Wavemeter interface {
	Read() (wavemeter.Reading, error)
	Press(button string) error
}

// HTTPWavemeter wraps a wavemeter in an HTTP route table
type HTTPWavemeter struct {
	Meter Wavemeter

	RouteTable generichttp.RouteTable
}

// NewHTTPWavemeter returns a new HTTP wrapper around a wavemeter
func NewHTTPWavemeter(m Wavemeter) HTTPWavemeter {
	h := HTTPWavemeter{Meter: m}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/wavelength"}: h.wavelength,
		{Method: http.MethodPost, Path: "/button"}:    generichttp.SetString(m.Press),
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWavemeter) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWavemeter) wavelength(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Meter.Read()
	switch err {
	case nil:
	case wavemeter.ErrLowSignal, wavemeter.ErrHighSignal:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	default:
		fail(w, err)
		return
	}
	server.WriteJSON(w, struct {
		wavemeter.Reading
		DisplayLEDs []string `json:"displayLEDs"`
		SystemLEDs  []string `json:"systemLEDs"`
	}{rd, wavemeter.DecodeDisplay(rd.Display), wavemeter.DecodeSystem(rd.System)})
}
