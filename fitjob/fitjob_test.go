package fitjob_test

import (
	"math"
	"testing"
	"time"

	"github.com/coldatoms/siscam/fitjob"
	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/imaging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gated blocks fits of images whose first pixel is 1 until release is closed
type gated struct {
	release chan struct{}
}

func (gated) Name() string { return "gated" }

func (g gated) DoFit(img *imaging.Image, roi imaging.ROI) (fitting.Result, error) {
	if img.Data[0] == 1 {
		<-g.release
	}
	return fitting.Result{Pars: fitpars.NoFit{}, ROI: roi}, nil
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) DoFit(img *imaging.Image, roi imaging.ROI) (fitting.Result, error) {
	panic("index out of range")
}

func constant(v float64) *imaging.Image {
	data := make([]float64, 4)
	for i := range data {
		data[i] = v
	}
	img, _ := imaging.New(2, 2, data)
	return img
}

func receive(t *testing.T, r *fitjob.Runner) fitjob.Job {
	t.Helper()
	select {
	case job, ok := <-r.Results():
		require.True(t, ok, "results closed")
		return job
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a result")
	}
	return fitjob.Job{}
}

func TestRunnerFitsImage(t *testing.T) {
	w, h := 80, 60
	data := make([]float64, w*h)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			dx, dy := float64(i)-40, float64(j)-30
			data[j*w+i] = math.Exp(-dx*dx/50 - dy*dy/50)
		}
	}
	img, _ := imaging.New(w, h, data)
	r := fitjob.New(func() (fitting.Strategy, error) {
		return fitting.New("gauss2d", imaging.DefaultImagingPars())
	}, 1)
	defer r.Close()

	gen, err := r.Submit(img, imaging.ROI{XMin: 0, XMax: w, YMin: 0, YMax: h})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	job := receive(t, r)
	require.NoError(t, job.Err)
	assert.Equal(t, uint64(1), job.Generation)
	assert.True(t, job.Result.Pars.Valid())
	assert.NotSame(t, img, job.Image)
}

func TestRunnerDiscardsSupersededResults(t *testing.T) {
	g := gated{release: make(chan struct{})}
	r := fitjob.New(func() (fitting.Strategy, error) { return g, nil }, 4)
	roi := imaging.ROI{XMin: 0, XMax: 2, YMin: 0, YMax: 2}

	_, err := r.Submit(constant(1), roi)
	require.NoError(t, err)
	gen, err := r.Submit(constant(2), roi)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)
	assert.Equal(t, uint64(2), r.Generation())

	job := receive(t, r)
	assert.Equal(t, uint64(2), job.Generation)

	close(g.release)
	r.Close()
	for job := range r.Results() {
		t.Errorf("unexpected result of generation %d", job.Generation)
	}
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := fitjob.New(func() (fitting.Strategy, error) { return panicky{}, nil }, 1)
	defer r.Close()
	_, err := r.Submit(constant(1), imaging.ROI{XMin: 0, XMax: 2, YMin: 0, YMax: 2})
	require.NoError(t, err)

	job := receive(t, r)
	assert.Error(t, job.Err)
	assert.IsType(t, fitpars.NoFit{}, job.Result.Pars)
	assert.False(t, job.Result.Pars.Valid())
	assert.Equal(t, []float64{0}, job.Result.Background)
}

func TestRunnerFactoryError(t *testing.T) {
	r := fitjob.New(func() (fitting.Strategy, error) {
		return fitting.New("nope", imaging.DefaultImagingPars())
	}, 1)
	defer r.Close()
	_, err := r.Submit(constant(1), imaging.ROI{XMin: 0, XMax: 2, YMin: 0, YMax: 2})
	require.NoError(t, err)
	job := receive(t, r)
	assert.ErrorIs(t, job.Err, fitting.ErrUnknownModel)
}

func TestSubmitAfterClose(t *testing.T) {
	r := fitjob.New(func() (fitting.Strategy, error) { return fitting.NoFit{}, nil }, 1)
	r.Close()
	r.Close()
	_, err := r.Submit(constant(1), imaging.ROI{})
	assert.Equal(t, fitjob.ErrClosed, err)

	_, err = fitjob.New(nil, 1).Submit(nil, imaging.ROI{})
	assert.Equal(t, fitting.ErrNilImage, err)
}
