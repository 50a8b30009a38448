package fitpars_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/coldatoms/siscam/fitpars"
	"github.com/coldatoms/siscam/imaging"
	"github.com/coldatoms/siscam/special"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ip = imaging.ImagingPars{Description: "test", PixelSize: 2, Sigma0: 1e-13, ExpansionTime: 10, Mass: 1.443e-25}

func ExampleNoFit() {
	var r fitpars.FitPars = fitpars.NoFit{}
	r.Invalidate()
	fmt.Println(r, r.Valid())
	// Output: no fit false
}

func TestAllTypesImplementFitPars(t *testing.T) {
	var _ fitpars.FitPars = fitpars.NoFit{}
	var _ fitpars.FitPars = &fitpars.Gauss2d{}
	var _ fitpars.FitPars = &fitpars.GaussBose2d{}
	var _ fitpars.FitPars = &fitpars.Bimodal2d{}
	var _ fitpars.FitPars = &fitpars.BoseBimodal2d{}
	var _ fitpars.FitPars = &fitpars.TF2d{}
}

func TestGauss2dQuantities(t *testing.T) {
	g, err := fitpars.NewGauss2d([]float64{0.5, 10, 20, 4, -3, 0.1}, []float64{0.1, 1, 1, 0.5, 0.25, 0}, 0.01, ip)
	require.NoError(t, err)
	assert.True(t, g.Valid())
	assert.Equal(t, 8., g.Sx())
	assert.Equal(t, 6., g.Sy(), "widths are reported as absolute values")
	assert.Equal(t, 1., g.SxErr())

	wantN := 1e-3 * 2 * math.Pi * 0.5 * 8e-6 * 6e-6 / 1e-13
	assert.InDelta(t, wantN, g.N(), 1e-12)
	wantNErr := 1e-3 * 2 * math.Pi / 1e-13 * 1e-12 * math.Sqrt(math.Pow(0.1*8*6, 2)+math.Pow(0.5*1*6, 2)+math.Pow(0.5*8*0.5, 2))
	assert.InDelta(t, wantNErr, g.NErr(), 1e-12)

	wantT := 0.5 * (64e-12 + 36e-12) / 1e-4 * 1.443e-25 / 1.38e-23 * 1e6
	assert.InDelta(t, wantT, g.T(), 1e-12)
	wantTErr := math.Sqrt(math.Pow(8*0.5, 2)+math.Pow(1*6, 2)) / 1e-4 * 1.443e-25 / 1.38e-23 * 1e6 * 1e-12
	assert.InDelta(t, wantTErr, g.TErr(), 1e-15)

	v := g.Values()
	assert.Len(t, v, len(g.Names()))
	assert.Equal(t, len(g.Names()), len(g.Units()))
	assert.Equal(t, 0.5, v["OD"])
	assert.Equal(t, 0.01, v["sigma"])
	assert.Equal(t, "Gauss2d, test, t_exp = 10.0ms, OD_max = 0.0", g.Params())
}

func TestTemperatureNeedsExpansionTime(t *testing.T) {
	noTOF := ip
	noTOF.ExpansionTime = 0
	g, _ := fitpars.NewGauss2d([]float64{1, 0, 0, 5, 5, 0}, nil, 0, noTOF)
	assert.Equal(t, 0., g.T())
	assert.Equal(t, 0., g.TErr())
}

func TestInvalidateIdempotent(t *testing.T) {
	g, _ := fitpars.NewGauss2d(make([]float64, 6), nil, 0, ip)
	g.Invalidate()
	g.Invalidate()
	assert.False(t, g.Valid())
}

func TestShortParameterVector(t *testing.T) {
	_, err := fitpars.NewGauss2d(make([]float64, 5), nil, 0, ip)
	assert.ErrorIs(t, err, fitpars.ErrParams)
	_, err = fitpars.NewBimodal2d(make([]float64, 9), make([]float64, 6), 0, ip)
	assert.ErrorIs(t, err, fitpars.ErrParams)
	_, err = fitpars.NewTF2d(make([]float64, 3), nil, 0, ip)
	assert.ErrorIs(t, err, fitpars.ErrParams)
}

func TestGaussBose2dConstants(t *testing.T) {
	p := []float64{0.5, 10, 20, 4, 3, 0}
	g, _ := fitpars.NewGauss2d(p, nil, 0, ip)
	b, err := fitpars.NewGaussBose2d(p, nil, 0, ip)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*special.G2(1), b.OD(), 1e-15)
	assert.InDelta(t, g.N()*0.5*4.885/2, b.N(), 1e-9)
	assert.Equal(t, "GaussBose2d", b.Description())
	assert.InDelta(t, b.OD(), b.Values()["OD"], 1e-15)
	assert.InDelta(t, b.N(), b.Values()["N"], 1e-12)
}

func TestBimodal2dConstants(t *testing.T) {
	p := []float64{0.5, 10, 20, 4, 3, 0, 1.5, 5, -6}
	perr := []float64{0.3, 0, 0, 0, 0, 0, 0.4, 0, 0}
	b, err := fitpars.NewBimodal2d(p, perr, 0, ip)
	require.NoError(t, err)
	wantNbec := 1e-3 * 1.25 * 1.5 * 10e-6 * 12e-6 / 1e-13
	assert.InDelta(t, wantNbec, b.Nbec(), 1e-12)
	wantNth := 1e-3 * 2 * math.Pi * 0.5 * 8e-6 * 6e-6 / 1e-13
	assert.InDelta(t, wantNth, b.Nth(), 1e-12)
	assert.InDelta(t, wantNth+wantNbec, b.N(), 1e-12)
	assert.Equal(t, 2., b.OD())
	assert.InDelta(t, 0.5, b.ODErr(), 1e-15)
	assert.Equal(t, 12., b.Ry())

	v := b.Values()
	assert.Len(t, v, len(b.Names()))
	assert.InDelta(t, b.N(), v["N"], 1e-12)

	bb, err := fitpars.NewBoseBimodal2d(p, perr, 0, ip)
	require.NoError(t, err)
	assert.InDelta(t, wantNth*0.5*4.885/2, bb.Nth(), 1e-9)
	assert.InDelta(t, bb.Nth()+wantNbec, bb.Values()["N"], 1e-9)
	assert.Equal(t, "bose enhanced bimodal2d", bb.Description())
}

func TestTF2d(t *testing.T) {
	tf, err := fitpars.NewTF2d([]float64{10, 20, 0.1, 2, 5, 4}, []float64{0.1, 0.2, 0, 0.3, 0, 0}, 0, ip)
	require.NoError(t, err)
	assert.Equal(t, 0., tf.NErr())
	assert.Equal(t, tf.Nbec(), tf.N())
	assert.Equal(t, 2., tf.OD())
	assert.Equal(t, 0.3, tf.ODErr())
	assert.Equal(t, 10., tf.Rx())
	assert.Contains(t, tf.String(), "rx: 10.0 µm")
	assert.Len(t, tf.Values(), len(tf.Names()))
}

func TestGauss2dString(t *testing.T) {
	g, _ := fitpars.NewGauss2d([]float64{1.234, 50.5, 30.2, 8, 6, 0}, nil, 0, imaging.DefaultImagingPars())
	s := g.String()
	assert.Contains(t, s, "OD:   1.23\n")
	assert.Contains(t, s, "mx:  50.5 px\n")
	assert.Contains(t, s, "sx:   8.0 µm\n")
}
