package special_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/coldatoms/siscam/special"

	"github.com/stretchr/testify/assert"
)

func ExampleG2() {
	fmt.Printf("%.6f\n", special.G2(1))
	// Output: 1.644934
}

func TestLi2KnownValues(t *testing.T) {
	ln2 := math.Log(2)
	cases := []struct {
		x, want float64
	}{
		{0, 0},
		{1, math.Pi * math.Pi / 6},
		{0.5, math.Pi*math.Pi/12 - ln2*ln2/2},
		{-1, -math.Pi * math.Pi / 12},
		{0.25, 0.26765263908273260},
		{0.9, 1.29971472300495},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, special.Li2(c.x), 1e-11, "Li2(%v)", c.x)
	}
}

func TestLi2Identities(t *testing.T) {
	for _, x := range []float64{-7, -0.8, -0.01} {
		l := math.Log(1 - x)
		assert.InDelta(t, -special.Li2(x/(x-1))-l*l/2, special.Li2(x), 1e-11, "Landen at %v", x)
	}
	for _, x := range []float64{0.05, 0.3, 0.6, 0.95} {
		want := math.Pi*math.Pi/6 - math.Log(x)*math.Log(1-x)
		assert.InDelta(t, want, special.Li2(x)+special.Li2(1-x), 1e-11, "Euler at %v", x)
	}
}

func TestLi2OutsideDomainIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(special.Li2(1.5)))
	assert.True(t, math.IsNaN(special.Spence(-0.1)))
}

func TestSpenceMatchesLi2OfComplement(t *testing.T) {
	for _, x := range []float64{0, 0.1, 0.7, 1, 2.5, 10} {
		assert.InDelta(t, special.Li2(1-x), special.Spence(x), 1e-14)
	}
	assert.Equal(t, 0., special.Spence(1))
}

func TestDG2SingularPoints(t *testing.T) {
	assert.Equal(t, 1.0, special.DG2(0))
	assert.Equal(t, 1.0, special.DG2(-3))
	assert.Equal(t, 0.0, special.DG2(1))
}

func TestDG2IsDerivativeOfG2(t *testing.T) {
	const h = 1e-6
	for _, x := range []float64{0.05, 0.2, 0.5, 0.8, 0.95} {
		numeric := (special.G2(x+h) - special.G2(x-h)) / (2 * h)
		assert.InDelta(t, numeric, special.DG2(x), 1e-6, "x=%v", x)
	}
}

func TestSliceHelpersAlias(t *testing.T) {
	x := []float64{0, 0.5, 1}
	want := []float64{special.G2(0), special.G2(0.5), special.G2(1)}
	special.G2Slice(x, x)
	assert.Equal(t, want, x)

	y := []float64{0, 0.5, 1}
	special.DG2Slice(y, y)
	assert.Equal(t, []float64{1, special.DG2(0.5), 0}, y)
}
