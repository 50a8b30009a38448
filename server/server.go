// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
)

// ReplyWithFile replies to the client request by serving the given file name
func ReplyWithFile(w http.ResponseWriter, r *http.Request, fn string, fldr string) {
	filePath, err := filepath.Abs(filepath.Join(fldr, fn))
	if err != nil {
		fstr := fmt.Sprintf("unable to compute abspath of file %s %s %s", fldr, fn, err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", filePath)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), f)
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a struct holding one of several primitive types, tagged
// by T.  It is encoded as the matching single-field JSON object, so that a
// value written by EncodeAndRespond can be read back with StrT, FloatT, etc.
type HumanPayload struct {
	// T is the type of the payload
	T types.BasicKind

	String string
	Float  float64
	Int    int
	Bool   bool
}

// EncodeAndRespond encodes the payload as JSON and writes it to w.
// A non-finite float is sent as null.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.String:
		v = StrT{hp.String}
	case types.Float64:
		if math.IsNaN(hp.Float) || math.IsInf(hp.Float, 0) {
			v = map[string]interface{}{"f64": nil}
		} else {
			v = FloatT{hp.Float}
		}
	case types.Int:
		v = IntT{hp.Int}
	case types.Bool:
		v = BoolT{hp.Bool}
	default:
		http.Error(w, fmt.Sprintf("unsupported payload type %v", hp.T), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("server: error encoding payload %v\n", err)
	}
}

// EncodeJSON writes v as a JSON response with status 200
func EncodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("server: error encoding json %v\n", err)
	}
}
