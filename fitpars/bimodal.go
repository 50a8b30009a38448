package fitpars

import (
	"fmt"
	"math"

	"github.com/coldatoms/siscam/imaging"
)

var (
	bimodalNames = []string{"sx", "sxerr", "sy", "syerr", "mx", "mxerr", "my", "myerr", "rx", "rxerr", "ry", "ryerr", "N", "Nth", "Nbec", "T", "OD", "sigma"}
	bimodalUnits = []string{"µm", "µm", "µm", "µm", "px", "px", "px", "px", "µm", "µm", "µm", "µm", "10^3", "10^3", "10^3", "µK", "", ""}

	tfNames = []string{"N", "Nerr", "mx", "mxerr", "my", "myerr", "rx", "rxerr", "ry", "ryerr", "Nbec", "OD", "ODerr", "sigma"}
	tfUnits = []string{"10^3", "10^3", "px", "px", "px", "px", "µm", "µm", "µm", "µm", "10^3", "", "", ""}
)

// Bimodal2d is the result of a thermal Gaussian plus Thomas-Fermi fit
type Bimodal2d struct {
	Gauss2d

	// B is the peak optical density of the condensate
	B, RxPx, RyPx float64

	BErr, RxPxErr, RyPxErr float64
}

// NewBimodal2d builds a result from p = [A, mx, my, sx, sy, offset, B, rx, ry] and its errors
func NewBimodal2d(p, perr []float64, sigma float64, ip imaging.ImagingPars) (*Bimodal2d, error) {
	p, perr, err := unpack(p, perr, 9)
	if err != nil {
		return nil, err
	}
	g, _ := NewGauss2d(p, perr, sigma, ip)
	b := &Bimodal2d{Gauss2d: *g}
	b.B, b.RxPx, b.RyPx = p[6], p[7], p[8]
	b.BErr, b.RxPxErr, b.RyPxErr = perr[6], perr[7], perr[8]
	return b, nil
}

// Rx is the Thomas-Fermi radius in µm
func (b *Bimodal2d) Rx() float64 { return math.Abs(b.RxPx) * b.Imaging.PixelSize }

// Ry is the Thomas-Fermi radius in µm
func (b *Bimodal2d) Ry() float64 { return math.Abs(b.RyPx) * b.Imaging.PixelSize }

// RxErr is the error of Rx in µm
func (b *Bimodal2d) RxErr() float64 { return math.Abs(b.RxPxErr) * b.Imaging.PixelSize }

// RyErr is the error of Ry in µm
func (b *Bimodal2d) RyErr() float64 { return math.Abs(b.RyPxErr) * b.Imaging.PixelSize }

// Nth is the thermal atom number in thousands
func (b *Bimodal2d) Nth() float64 { return b.number(gaussIntegral) }

// Nbec is the condensed atom number in thousands
func (b *Bimodal2d) Nbec() float64 {
	return condensed(b.B, b.Rx(), b.Ry(), b.Imaging.Sigma0)
}

// N is the total atom number in thousands
func (b *Bimodal2d) N() float64 { return b.Nth() + b.Nbec() }

// OD is the peak optical density of both components
func (b *Bimodal2d) OD() float64 { return b.A + b.B }

// ODErr is the error of OD
func (b *Bimodal2d) ODErr() float64 { return math.Hypot(b.AErr, b.BErr) }

func (b *Bimodal2d) Description() string { return "bimodal2d" }
func (b *Bimodal2d) Names() []string     { return bimodalNames }
func (b *Bimodal2d) Units() []string     { return bimodalUnits }

func (b *Bimodal2d) Values() map[string]float64 { return b.values(b.Nth()) }

func (b *Bimodal2d) values(nth float64) map[string]float64 {
	nbec := b.Nbec()
	return values(bimodalNames,
		b.Sx(), b.SxErr(),
		b.Sy(), b.SyErr(),
		b.Mx, b.MxErr,
		b.My, b.MyErr,
		b.Rx(), b.RxErr(),
		b.Ry(), b.RyErr(),
		nth+nbec, nth, nbec,
		b.T(),
		b.OD(),
		b.Sigma)
}

func (b *Bimodal2d) Params() string { return params(b.Description(), b.Imaging) }

func (b *Bimodal2d) String() string { return b.format(b.Nth()) }

func (b *Bimodal2d) format(nth float64) string {
	nbec := b.Nbec()
	return fmt.Sprintf("Dtb:%3.2f/%3.2f\n   ±%3.2f/%3.2f\n"+
		"mxy:%3.0f/%3.0f px\n   ±%3.1f/%3.1f\n"+
		"sxy:%3.0f/%3.0f µm\n   ±%3.1f/%3.1f\n"+
		"rxy:%3.0f/%3.0f µm\n   ±%3.1f/%3.1f\n"+
		"Tth:%5.3f µK\n   ±%5.3f\n"+
		"Nsb:%3.0f/%3.0f K",
		b.A, b.B, b.AErr, b.BErr,
		b.Mx, b.My, b.MxErr, b.MyErr,
		b.Sx(), b.Sy(), b.SxErr(), b.SyErr(),
		b.Rx(), b.Ry(), b.RxErr(), b.RyErr(),
		b.T(), b.TErr(),
		nth+nbec, nbec)
}

// BoseBimodal2d is the result of a Bose enhanced Gaussian plus Thomas-Fermi fit
type BoseBimodal2d struct {
	Bimodal2d
}

// NewBoseBimodal2d builds a result from p = [A, mx, my, sx, sy, offset, B, rx, ry] and its errors
func NewBoseBimodal2d(p, perr []float64, sigma float64, ip imaging.ImagingPars) (*BoseBimodal2d, error) {
	b, err := NewBimodal2d(p, perr, sigma, ip)
	if err != nil {
		return nil, err
	}
	return &BoseBimodal2d{*b}, nil
}

// Nth is the thermal atom number in thousands
func (b *BoseBimodal2d) Nth() float64 { return b.number(boseIntegral) }

// N is the total atom number in thousands
func (b *BoseBimodal2d) N() float64 { return b.Nth() + b.Nbec() }

func (b *BoseBimodal2d) Description() string { return "bose enhanced bimodal2d" }

func (b *BoseBimodal2d) Values() map[string]float64 { return b.values(b.Nth()) }

func (b *BoseBimodal2d) Params() string { return params(b.Description(), b.Imaging) }

func (b *BoseBimodal2d) String() string { return b.format(b.Nth()) }

// TF2d is the result of a pure Thomas-Fermi fit
type TF2d struct {
	validity

	Mx, My, Offset, B, RxPx, RyPx float64

	MxErr, MyErr, OffsetErr, BErr, RxPxErr, RyPxErr float64

	// Sigma is the standard deviation of the fit residual
	Sigma float64

	Imaging imaging.ImagingPars
}

// NewTF2d builds a result from p = [mx, my, offset, B, rx, ry] and its errors
func NewTF2d(p, perr []float64, sigma float64, ip imaging.ImagingPars) (*TF2d, error) {
	p, perr, err := unpack(p, perr, 6)
	if err != nil {
		return nil, err
	}
	return &TF2d{
		Mx: p[0], My: p[1], Offset: p[2], B: p[3], RxPx: p[4], RyPx: p[5],
		MxErr: perr[0], MyErr: perr[1], OffsetErr: perr[2], BErr: perr[3], RxPxErr: perr[4], RyPxErr: perr[5],
		Sigma: sigma, Imaging: ip,
	}, nil
}

// Rx is the Thomas-Fermi radius in µm
func (t *TF2d) Rx() float64 { return math.Abs(t.RxPx) * t.Imaging.PixelSize }

// Ry is the Thomas-Fermi radius in µm
func (t *TF2d) Ry() float64 { return math.Abs(t.RyPx) * t.Imaging.PixelSize }

// RxErr is the error of Rx in µm
func (t *TF2d) RxErr() float64 { return math.Abs(t.RxPxErr) * t.Imaging.PixelSize }

// RyErr is the error of Ry in µm
func (t *TF2d) RyErr() float64 { return math.Abs(t.RyPxErr) * t.Imaging.PixelSize }

// Nbec is the condensed atom number in thousands
func (t *TF2d) Nbec() float64 { return condensed(t.B, t.Rx(), t.Ry(), t.Imaging.Sigma0) }

// N is the atom number in thousands, equal to Nbec
func (t *TF2d) N() float64 { return t.Nbec() }

// NErr is not propagated for Thomas-Fermi fits and is always zero
func (t *TF2d) NErr() float64 { return 0 }

// OD is the peak optical density
func (t *TF2d) OD() float64 { return t.B }

// ODErr is the error of OD
func (t *TF2d) ODErr() float64 { return t.BErr }

func (t *TF2d) Description() string { return "Thomas-Fermi2d" }
func (t *TF2d) Names() []string     { return tfNames }
func (t *TF2d) Units() []string     { return tfUnits }

func (t *TF2d) Values() map[string]float64 {
	return values(tfNames,
		t.N(), t.NErr(),
		t.Mx, t.MxErr,
		t.My, t.MyErr,
		t.Rx(), t.RxErr(),
		t.Ry(), t.RyErr(),
		t.Nbec(),
		t.OD(), t.ODErr(),
		t.Sigma)
}

func (t *TF2d) Params() string { return params(t.Description(), t.Imaging) }

func (t *TF2d) String() string {
	return fmt.Sprintf("OD:%3.2f ±%3.2f\n"+
		"mx:%5.1f px ±%3.2f\n"+
		"my:%5.1f px ±%3.2f\n"+
		"rx:%5.1f µm ±%3.2f\n"+
		"ry:%5.1f µm ±%3.2f\n"+
		"Ntf:%3.0f K",
		t.B, t.BErr,
		t.Mx, t.MxErr,
		t.My, t.MyErr,
		t.Rx(), t.RxErr(),
		t.Ry(), t.RyErr(),
		t.Nbec())
}

func condensed(b, rx, ry, sigma0 float64) float64 {
	return 1e-3 * tfIntegral * b * rx * 1e-6 * ry * 1e-6 / sigma0
}
