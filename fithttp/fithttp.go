// Package fithttp exposes image fitting over HTTP.
package fithttp

import (
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coldatoms/siscam/fitjob"
	"github.com/coldatoms/siscam/fitsimg"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/generichttp"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/imgrec"
	"github.com/coldatoms/siscam/server"

	"golang.org/x/time/rate"
)

// Summary is the JSON form of a fit result.  Non-finite values are null.
type Summary struct {
	Model      string              `json:"model"`
	Valid      bool                `json:"valid"`
	ROI        imaging.ROI         `json:"roi"`
	Background *float64            `json:"background"`
	Names      []string            `json:"names"`
	Units      []string            `json:"units"`
	Values     map[string]*float64 `json:"values"`
	Text       string              `json:"text"`
	File       string              `json:"file,omitempty"`
	Generation uint64              `json:"generation,omitempty"`
}

func nullable(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Summarize converts a result to its JSON form
func Summarize(res fitting.Result) Summary {
	s := Summary{
		Model:  res.Pars.Description(),
		Valid:  res.Pars.Valid(),
		ROI:    res.ROI,
		Names:  res.Pars.Names(),
		Units:  res.Pars.Units(),
		Values: map[string]*float64{},
		Text:   res.Pars.String(),
	}
	if len(res.Background) > 0 {
		s.Background = nullable(res.Background[0])
	}
	for k, v := range res.Pars.Values() {
		s.Values[k] = nullable(v)
	}
	return s
}

// HTTPFitter holds the fit settings shared by every request
type HTTPFitter struct {
	mu      sync.RWMutex
	model   string
	roi     imaging.ROI
	ip      imaging.ImagingPars
	last    *Summary
	limiter *rate.Limiter
	rec     *imgrec.Recorder

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPFitter returns a fitter with the route table pre-configured.
// maxPerSecond <= 0 disables the rate limit on /fit.  rec may be nil.
func NewHTTPFitter(model string, roi imaging.ROI, ip imaging.ImagingPars, maxPerSecond int, rec *imgrec.Recorder) (*HTTPFitter, error) {
	if _, err := fitting.New(model, ip); err != nil {
		return nil, err
	}
	h := &HTTPFitter{model: model, roi: roi, ip: ip, rec: rec, limiter: rate.NewLimiter(rate.Inf, 1)}
	h.setRate(maxPerSecond)
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/fit"}:                         h.Limit(h.Fit),
		{Method: http.MethodGet, Path: "/model"}:                        generichttp.GetString(h.Model),
		{Method: http.MethodPost, Path: "/model"}:                       generichttp.SetString(h.SetModel),
		{Method: http.MethodGet, Path: "/models"}:                       h.Models,
		{Method: http.MethodGet, Path: "/roi"}:                          h.GetROI,
		{Method: http.MethodPost, Path: "/roi"}:                         h.SetROI,
		{Method: http.MethodGet, Path: "/imaging-pars"}:                 h.GetImagingPars,
		{Method: http.MethodPost, Path: "/imaging-pars"}:                h.SetImagingPars,
		{Method: http.MethodPost, Path: "/imaging-pars/preset"}:         generichttp.SetString(h.SetPreset),
		{Method: http.MethodGet, Path: "/imaging-pars/presets"}:         h.Presets,
		{Method: http.MethodGet, Path: "/imaging-pars/expansion-time"}:  generichttp.GetFloat(h.expansionTime),
		{Method: http.MethodPost, Path: "/imaging-pars/expansion-time"}: generichttp.SetFloat(h.setExpansionTime),
		{Method: http.MethodGet, Path: "/max-fits-per-second"}:          generichttp.GetInt(h.rate),
		{Method: http.MethodPost, Path: "/max-fits-per-second"}:         generichttp.SetInt(h.setRateErr),
		{Method: http.MethodGet, Path: "/last"}:                         h.Last,
		{Method: http.MethodGet, Path: "/last/fits"}:                    h.LastFits,
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/endpoints"}] = h.Endpoints
	return h, nil
}

// RT satisfies generichttp.HTTPer
func (h *HTTPFitter) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Model returns the name of the current model
func (h *HTTPFitter) Model() (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.model, nil
}

// SetModel changes the model, which must be registered
func (h *HTTPFitter) SetModel(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fitting.New(name, h.ip); err != nil {
		return err
	}
	h.model = name
	return nil
}

// ROI returns the current ROI
func (h *HTTPFitter) ROI() imaging.ROI {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roi
}

// Strategy returns a fresh strategy for the current model and imaging
// parameters.  It is a fitjob.Factory.
func (h *HTTPFitter) Strategy() (fitting.Strategy, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fitting.New(h.model, h.ip)
}

// ODMax returns the saturation density images are corrected for
func (h *HTTPFitter) ODMax() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ip.ODMax
}

// Presets replies with the named imaging systems
func (h *HTTPFitter) Presets(w http.ResponseWriter, r *http.Request) {
	server.EncodeJSON(w, imaging.Presets)
}

// SetPreset replaces the imaging parameters by a named preset, keeping the
// expansion time
func (h *HTTPFitter) SetPreset(name string) error {
	ip, ok := imaging.Preset(name)
	if !ok {
		return &presetError{name}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ip.ExpansionTime = h.ip.ExpansionTime
	h.ip = ip
	return nil
}

type presetError struct{ name string }

func (e *presetError) Error() string { return "unknown imaging preset " + strconv.Quote(e.name) }

func (h *HTTPFitter) expansionTime() (float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ip.ExpansionTime, nil
}

func (h *HTTPFitter) setExpansionTime(t float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ip.ExpansionTime = t
	return nil
}

func (h *HTTPFitter) setRate(n int) {
	if n <= 0 {
		h.limiter.SetLimit(rate.Inf)
		return
	}
	h.limiter.SetLimit(rate.Limit(n))
	h.limiter.SetBurst(n)
}

func (h *HTTPFitter) setRateErr(n int) error {
	h.setRate(n)
	return nil
}

func (h *HTTPFitter) rate() (int, error) {
	l := h.limiter.Limit()
	if l == rate.Inf {
		return 0, nil
	}
	return int(l), nil
}

// Limit is a middleware that replies 429 when requests arrive faster than
// the configured number of fits per second
func (h *HTTPFitter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "too many fit requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// Fit fits the FITS image in the request body, either optical densities or
// raw atoms, reference and dark frames, see fitsimg.ReadOD.  The query may override the
// model and ROI with model, xmin, xmax, ymin and ymax, and choose the reply
// with fmt=json (default) or fmt=fits.
func (h *HTTPFitter) Fit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	q := r.URL.Query()
	format := q.Get("fmt")
	if format != "" && format != "json" && format != "fits" {
		http.Error(w, "fmt must be json or fits", http.StatusBadRequest)
		return
	}
	h.mu.RLock()
	model, roi, ip := h.model, h.roi, h.ip
	h.mu.RUnlock()
	img, err := fitsimg.ReadOD(r.Body, ip.ODMax)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if m := q.Get("model"); m != "" {
		model = m
	}
	for key, dst := range map[string]*int{"xmin": &roi.XMin, "xmax": &roi.XMax, "ymin": &roi.YMin, "ymax": &roi.YMax} {
		if s := q.Get(key); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, key+": "+err.Error(), http.StatusBadRequest)
				return
			}
			*dst = v
		}
	}

	s, err := fitting.New(model, ip)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.DoFit(img, roi)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sum := Summarize(res)
	sum.File = h.record(img, res)
	h.setLast(sum)

	if format == "fits" {
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=fit.fits")
		if err := fitsimg.WriteFit(w, img, res); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	server.EncodeJSON(w, sum)
}

// record writes the fit to the recorder if it is active, returning the file name
func (h *HTTPFitter) record(img *imaging.Image, res fitting.Result) string {
	if h.rec == nil || !h.rec.Active() || len(res.Images) == 0 {
		return ""
	}
	fn, err := h.rec.Record(func(w io.Writer) error {
		return fitsimg.WriteFit(w, img, res)
	})
	if err != nil {
		log.Printf("fithttp: error recording fit %v\n", err)
		return ""
	}
	return fn
}

// Observe makes a finished background job the last result, recording it if
// the recorder is active
func (h *HTTPFitter) Observe(job fitjob.Job) {
	if job.Err != nil {
		log.Printf("fithttp: fit of generation %d failed: %v\n", job.Generation, job.Err)
		return
	}
	sum := Summarize(job.Result)
	sum.Generation = job.Generation
	sum.File = h.record(job.Image, job.Result)
	h.setLast(sum)
}

func (h *HTTPFitter) setLast(s Summary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &s
}

// LastSummary returns the most recent result, if any
func (h *HTTPFitter) LastSummary() (Summary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Summary{}, false
	}
	return *h.last, true
}

// Last replies with the most recent fit summary, 404 if there is none
func (h *HTTPFitter) Last(w http.ResponseWriter, r *http.Request) {
	s, ok := h.LastSummary()
	if !ok {
		http.Error(w, "no fit yet", http.StatusNotFound)
		return
	}
	server.EncodeJSON(w, s)
}

// LastFits replies with the most recently recorded FITS file
func (h *HTTPFitter) LastFits(w http.ResponseWriter, r *http.Request) {
	if h.rec == nil || h.rec.Last() == "" {
		http.Error(w, "no fit recorded", http.StatusNotFound)
		return
	}
	fn := h.rec.Last()
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}

// Models replies with the registered model names
func (h *HTTPFitter) Models(w http.ResponseWriter, r *http.Request) {
	server.EncodeJSON(w, fitting.Models())
}

// GetROI replies with the current ROI
func (h *HTTPFitter) GetROI(w http.ResponseWriter, r *http.Request) {
	server.EncodeJSON(w, h.ROI())
}

// SetROI replaces the ROI with the JSON body
func (h *HTTPFitter) SetROI(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	roi := imaging.ROI{}
	if err := json.NewDecoder(r.Body).Decode(&roi); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if roi.Empty() {
		http.Error(w, "ROI "+roi.String()+" is empty", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.roi = roi
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetImagingPars replies with the current imaging parameters
func (h *HTTPFitter) GetImagingPars(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ip := h.ip
	h.mu.RUnlock()
	server.EncodeJSON(w, ip)
}

// SetImagingPars replaces the imaging parameters with the JSON body.
// Fields missing from the body keep their current value
func (h *HTTPFitter) SetImagingPars(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	h.mu.RLock()
	ip := h.ip
	h.mu.RUnlock()
	if err := json.NewDecoder(r.Body).Decode(&ip); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.ip = ip
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Endpoints replies with the routes of the table
func (h *HTTPFitter) Endpoints(w http.ResponseWriter, r *http.Request) {
	server.EncodeJSON(w, h.RouteTable.Endpoints())
}
