// Package server contains the JSON payload types shared by the HTTP
// interfaces of the instruments.
package server

import (
	"encoding/json"
	"go/types"
	"net/http"
)

// FloatT is a struct with a single float field, for {"f64": value} bodies
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, for {"int": value} bodies
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, for {"str": value} bodies
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, for {"bool": value} bodies
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload holds one value of a basic kind.  T selects which field is
// sent by EncodeAndRespond
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

func (hp HumanPayload) body() interface{} {
	switch hp.T {
	case types.Float64, types.Float32:
		return FloatT{F64: hp.Float}
	case types.Int, types.Int64, types.Int32, types.Uint16:
		return IntT{Int: hp.Int}
	case types.Bool:
		return BoolT{Bool: hp.Bool}
	default:
		return StrT{Str: hp.String}
	}
}

// EncodeAndRespond writes the payload to w as JSON
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, hp.body())
}

// WriteJSON encodes v as the body of a 200 response
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
