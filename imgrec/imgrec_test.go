package imgrec

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldatoms/siscam/generichttp"
	"github.com/coldatoms/siscam/server"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDay() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }

func TestRecordIncrementsPastExistingFiles(t *testing.T) {
	dir := t.TempDir()
	day := filepath.Join(dir, "2026-03-07")
	require.NoError(t, os.MkdirAll(day, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(day, "shot000041.fits"), []byte("x"), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(day, "other000099.fits"), []byte("x"), 0666))

	r := &Recorder{Root: dir, Prefix: "shot", now: fixedDay}
	fn, err := r.Record(func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(day, "shot000042.fits"), fn)
	assert.Equal(t, fn, r.Last())

	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	fn, err = r.Record(func(w io.Writer) error {
		_, err := w.Write([]byte("again"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(day, "shot000043.fits"), fn)
}

func TestActive(t *testing.T) {
	r := &Recorder{}
	assert.False(t, r.Active())
	r.Enabled = true
	assert.False(t, r.Active())
	r.Root = t.TempDir()
	assert.True(t, r.Active())
}

type table struct{ rt generichttp.RouteTable }

func (t table) RT() generichttp.RouteTable { return t.rt }

func TestHTTPWrapperRoutes(t *testing.T) {
	r := &Recorder{Prefix: "a"}
	tbl := table{generichttp.RouteTable{}}
	NewHTTPWrapper(r).Inject(tbl)
	mux := chi.NewRouter()
	tbl.rt.Bind(mux)

	body, _ := json.Marshal(server.StrT{Str: "shot"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autowrite/prefix", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shot", r.Prefix)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/autowrite/prefix", nil))
	var s server.StrT
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, "shot", s.Str)

	body, _ = json.Marshal(server.BoolT{Bool: true})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autowrite/enabled", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, r.Enabled)

	dir := filepath.Join(t.TempDir(), "new")
	body, _ = json.Marshal(server.StrT{Str: dir})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autowrite/root", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.DirExists(t, dir)

	assert.Len(t, tbl.rt.Endpoints(), 6)
}
