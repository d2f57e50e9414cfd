// Package tmc provides an HTTP interface to test and measurement devices:
// the DS1102E oscilloscope, DG series function generators, the Lakeshore 331
// and the WA-1500 wavemeter
package tmc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/coldatomlab/labctl/comm"
	"github.com/coldatomlab/labctl/rigol"
	"github.com/coldatomlab/labctl/scpi"
)

// status maps an instrument error to an HTTP status code
func status(err error) int {
	var (
		pe *scpi.ParseError
		ce *comm.ConnectionError
		de *scpi.DeviceError
	)
	switch {
	case errors.Is(err, rigol.ErrUnsupportedConfiguration):
		return http.StatusConflict
	case errors.Is(err, rigol.ErrBadSelection):
		return http.StatusBadRequest
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity
	case comm.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce), errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), status(err))
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// queryInt reads an integer query parameter, def if absent
func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "query parameter %s", key)
	}
	return i, nil
}
