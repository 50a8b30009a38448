package fitsimg_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/fitsimg"
	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/imaging"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(w, h int) *imaging.Image {
	data := make([]float64, w*h)
	for i := range data {
		data[i] = float64(i) / 10
	}
	img, _ := imaging.New(w, h, data)
	return img
}

func gaussPars(t *testing.T) fitpars.FitPars {
	p, err := fitpars.NewGauss2d([]float64{1, 2, 3, 4, 5, 0.25}, make([]float64, 6), 0.01, imaging.DefaultImagingPars())
	require.NoError(t, err)
	return p
}

func TestCardsDescribeResult(t *testing.T) {
	res := fitting.Result{
		Background: []float64{0.25},
		Pars:       gaussPars(t),
		ROI:        imaging.ROI{XMin: 1, XMax: 5, YMin: 1, YMax: 4},
	}
	byName := map[string]fitsio.Card{}
	for _, c := range fitsimg.Cards(res) {
		byName[c.Name] = c
	}
	assert.Equal(t, "Gauss2d", byName["MODEL"].Value)
	assert.Equal(t, true, byName["VALID"].Value)
	assert.Equal(t, 5, byName["XMAX"].Value)
	assert.Equal(t, 0.25, byName["BKGND"].Value)
	assert.Equal(t, 2., byName["MX"].Value)
	assert.Equal(t, "um", byName["SX"].Comment)
}

func TestCardsSkipNonFinite(t *testing.T) {
	res := fitting.Result{Background: []float64{math.NaN()}, Pars: fitpars.NoFit{}}
	for _, c := range fitsimg.Cards(res) {
		assert.NotEqual(t, "BKGND", c.Name)
	}
}

func TestReadUint16WithBZERO(t *testing.T) {
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	require.NoError(t, err)
	im := fitsio.NewImage(16, []int{3, 2})
	require.NoError(t, im.Header().Append(fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0}))
	raw := []uint16{0, 1, 2, 60000, 65535, 100}
	ints := make([]int16, len(raw))
	for i, v := range raw {
		ints[i] = int16(int32(v) - 32768)
	}
	require.NoError(t, im.Write(ints))
	require.NoError(t, f.Write(im))
	require.NoError(t, im.Close())
	require.NoError(t, f.Close())

	img, err := fitsimg.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, img.W)
	assert.Equal(t, 2, img.H)
	for i, v := range raw {
		assert.Equal(t, float64(v), img.Data[i])
	}
}

func TestReadGarbage(t *testing.T) {
	_, err := fitsimg.Read(bytes.NewReader([]byte("not a fits file")))
	assert.Error(t, err)
}

func TestWriteFitThenRead(t *testing.T) {
	img := ramp(8, 6)
	img.Set(1, 1, math.NaN())
	img.MaskNonFinite()
	roi := imaging.ROI{XMin: 1, XMax: 5, YMin: 1, YMax: 4}
	fit := make([]float64, 12)
	for i := range fit {
		fit[i] = 7
	}
	fitImg, _ := imaging.New(4, 3, fit)
	res := fitting.Result{
		Images:     []*imaging.Image{fitImg},
		Background: []float64{0.25},
		Pars:       gaussPars(t),
		ROI:        roi,
	}

	var buf bytes.Buffer
	require.NoError(t, fitsimg.WriteFit(&buf, img, res))

	back, err := fitsimg.Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, back.W)
	assert.Equal(t, 3, back.H)
	assert.True(t, back.Masked(0, 0))
	assert.Equal(t, img.At(2, 1), back.At(1, 0))
	assert.Equal(t, img.At(4, 3), back.At(3, 2))
}

func TestWriteFitRejectsMismatchedImages(t *testing.T) {
	img := ramp(8, 6)
	wrong, _ := imaging.New(2, 2, make([]float64, 4))
	res := fitting.Result{Images: []*imaging.Image{wrong}, ROI: imaging.ROI{XMin: 0, XMax: 8, YMin: 0, YMax: 6}}
	assert.Error(t, fitsimg.WriteFit(&bytes.Buffer{}, img, res))
}

func writeCube(t *testing.T, w, h int, planes ...[]float64) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	f, err := fitsio.Create(&buf)
	require.NoError(t, err)
	im := fitsio.NewImage(-64, []int{w, h, len(planes)})
	var data []float64
	for _, p := range planes {
		data = append(data, p...)
	}
	require.NoError(t, im.Write(data))
	require.NoError(t, f.Write(im))
	require.NoError(t, im.Close())
	require.NoError(t, f.Close())
	return &buf
}

func TestReadODFromRawFrames(t *testing.T) {
	atoms := []float64{15, 60, 110, 10}
	ref := []float64{110, 110, 110, 10}
	dark := []float64{10, 10, 10, 10}
	od, err := fitsimg.ReadOD(writeCube(t, 2, 2, atoms, ref, dark), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, od.W)
	assert.InDelta(t, math.Log(20), od.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log(2), od.At(1, 0), 1e-12)
	assert.InDelta(t, 0, od.At(0, 1), 1e-12)
	assert.True(t, od.Masked(1, 1))
	assert.Equal(t, float64(imaging.DefaultFill), od.Fill)

	noDark, err := fitsimg.ReadOD(writeCube(t, 2, 2, atoms, ref), 0)
	require.NoError(t, err)
	assert.InDelta(t, -math.Log(15./110), noDark.At(0, 0), 1e-12)
	assert.False(t, noDark.Masked(1, 1))
}

func TestReadODCorrectsSaturation(t *testing.T) {
	od := []float64{0.5, 1, 2, 4}
	img, err := fitsimg.ReadOD(writeCube(t, 2, 2, od), 3)
	require.NoError(t, err)
	want := imaging.CorrectSaturation(&imaging.Image{W: 2, H: 2, Data: od}, 3)
	for i := range od {
		assert.Equal(t, want.Masked(i%2, i/2), img.Masked(i%2, i/2))
		if !want.Masked(i%2, i/2) {
			assert.InDelta(t, want.Data[i], img.Data[i], 1e-12)
		}
	}
	assert.Greater(t, img.At(1, 0), 1.)
	assert.True(t, img.Masked(1, 1))
	assert.Equal(t, 3., img.Fill)
}

func TestReadODKeepsFitOutput(t *testing.T) {
	img := ramp(4, 3)
	fitImg, _ := imaging.New(4, 3, make([]float64, 12))
	res := fitting.Result{
		Images: []*imaging.Image{fitImg},
		Pars:   gaussPars(t),
		ROI:    imaging.ROI{XMin: 0, XMax: 4, YMin: 0, YMax: 3},
	}
	var buf bytes.Buffer
	require.NoError(t, fitsimg.WriteFit(&buf, img, res))

	back, err := fitsimg.ReadOD(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, img.Data, back.Data)
}

func TestWriteFitWithoutData(t *testing.T) {
	res := fitting.Result{Pars: fitpars.NoFit{}, ROI: imaging.ROI{XMin: 0, XMax: 2, YMin: 0, YMax: 2}}
	err := fitsimg.WriteFit(&bytes.Buffer{}, nil, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data image")

	err = fitsimg.WriteFit(&bytes.Buffer{}, ramp(4, 3), fitting.Result{Pars: fitpars.NoFit{}, ROI: imaging.ROI{XMin: 10, XMax: 20, YMin: 0, YMax: 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to write")
}
