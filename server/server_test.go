package server

import (
	"go/types"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanPayloadEncodings(t *testing.T) {
	cases := []struct {
		hp   HumanPayload
		want string
	}{
		{HumanPayload{T: types.String, String: "a"}, `{"str":"a"}`},
		{HumanPayload{T: types.Float64, Float: 1.5}, `{"f64":1.5}`},
		{HumanPayload{T: types.Float64, Float: math.Inf(-1)}, `{"f64":null}`},
		{HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		c.hp.EncodeAndRespond(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, c.want, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	HumanPayload{T: types.Complex128}.EncodeAndRespond(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReplyWithFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.fits"), []byte("SIMPLE"), 0666))

	rec := httptest.NewRecorder()
	ReplyWithFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), "a.fits", dir)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SIMPLE", rec.Body.String())

	rec = httptest.NewRecorder()
	ReplyWithFile(rec, httptest.NewRequest(http.MethodGet, "/", nil), "b.fits", dir)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
