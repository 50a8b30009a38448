// Package imaging holds the image, region of interest and imaging system
// parameters consumed by the fitters, along with optical density preparation.
package imaging

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultFill is the fill value of masked pixels when no saturation limit is set
const DefaultFill = 3

var (
	// ErrShape is generated when a data or mask slice does not match the image dimensions
	ErrShape = errors.New("data length does not match image dimensions")
)

// Image is a row-major 2D array of intensities with an optional mask.
// Rows are y, columns are x.
type Image struct {
	// W is the width (number of columns)
	W int

	// H is the height (number of rows)
	H int

	// Data holds H rows of W samples
	Data []float64

	// Mask marks invalid pixels with true.  A nil mask means every pixel is valid
	Mask []bool

	// Fill replaces masked pixels in Filled
	Fill float64
}

// New returns an image wrapping data, with every non-finite sample masked
func New(w, h int, data []float64) (*Image, error) {
	if w < 0 || h < 0 || len(data) != w*h {
		return nil, ErrShape
	}
	img := &Image{W: w, H: h, Data: data, Fill: DefaultFill}
	img.MaskNonFinite()
	return img, nil
}

// NewMasked returns an image with an explicit mask
func NewMasked(w, h int, data []float64, mask []bool) (*Image, error) {
	if w < 0 || h < 0 || len(data) != w*h || (mask != nil && len(mask) != len(data)) {
		return nil, ErrShape
	}
	return &Image{W: w, H: h, Data: data, Mask: mask, Fill: DefaultFill}, nil
}

// At returns the raw value at (x, y), ignoring the mask
func (im *Image) At(x, y int) float64 {
	return im.Data[y*im.W+x]
}

// Set sets the value at (x, y)
func (im *Image) Set(x, y int, v float64) {
	im.Data[y*im.W+x] = v
}

// Masked returns true if (x, y) is invalid
func (im *Image) Masked(x, y int) bool {
	if im.Mask == nil {
		return false
	}
	return im.Mask[y*im.W+x]
}

// MaskNonFinite masks every NaN or Inf sample, allocating the mask if needed
func (im *Image) MaskNonFinite() {
	for i, v := range im.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if im.Mask == nil {
				im.Mask = make([]bool, len(im.Data))
			}
			im.Mask[i] = true
		}
	}
}

// Clone returns a deep copy of the image
func (im *Image) Clone() *Image {
	out := &Image{W: im.W, H: im.H, Fill: im.Fill}
	out.Data = append([]float64(nil), im.Data...)
	if im.Mask != nil {
		out.Mask = append([]bool(nil), im.Mask...)
	}
	return out
}

// Filled returns a copy with masked pixels replaced by the fill value.
// The copy carries no mask.
func (im *Image) Filled() *Image {
	out := &Image{W: im.W, H: im.H, Fill: im.Fill, Data: make([]float64, len(im.Data))}
	for i, v := range im.Data {
		if im.Mask != nil && im.Mask[i] {
			v = im.Fill
		}
		out.Data[i] = v
	}
	return out
}

// ROI is the rectangle [XMin, XMax) x [YMin, YMax) of an image
type ROI struct {
	XMin int `yaml:"XMin" json:"xmin"`
	XMax int `yaml:"XMax" json:"xmax"`
	YMin int `yaml:"YMin" json:"ymin"`
	YMax int `yaml:"YMax" json:"ymax"`
}

// DefaultROI covers a full 1392x1040 sensor
func DefaultROI() ROI {
	return ROI{XMin: 0, XMax: 1392, YMin: 0, YMax: 1040}
}

// Clip returns the ROI clipped to the image bounds
func (r ROI) Clip(im *Image) ROI {
	x0, x1 := clip(r.XMin, r.XMax, im.W)
	y0, y1 := clip(r.YMin, r.YMax, im.H)
	return ROI{XMin: x0, XMax: x1, YMin: y0, YMax: y1}
}

// Width is the x extent, zero for an inverted ROI
func (r ROI) Width() int {
	if r.XMax < r.XMin {
		return 0
	}
	return r.XMax - r.XMin
}

// Height is the y extent, zero for an inverted ROI
func (r ROI) Height() int {
	if r.YMax < r.YMin {
		return 0
	}
	return r.YMax - r.YMin
}

// Empty is true if the ROI holds no pixels
func (r ROI) Empty() bool {
	return r.Width() == 0 || r.Height() == 0
}

// Contains returns true if (x, y) is inside the ROI
func (r ROI) Contains(x, y int) bool {
	return x >= r.XMin && x < r.XMax && y >= r.YMin && y < r.YMax
}

func (r ROI) String() string {
	return fmt.Sprintf("x=[%d,%d) y=[%d,%d)", r.XMin, r.XMax, r.YMin, r.YMax)
}

func clip(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// ImagingPars describes the imaging system.  It is only used for unit
// conversion of fit results, never in the numerical solve.
type ImagingPars struct {
	// Description is a human readable name
	Description string `yaml:"Description" json:"description"`

	// PixelSize is the object-plane size of one pixel in µm
	PixelSize float64 `yaml:"PixelSize" json:"pixelsize"`

	// Sigma0 is the absorption cross section in m²
	Sigma0 float64 `yaml:"Sigma0" json:"sigma0"`

	// ExpansionTime is the time of flight in ms.  Zero disables temperatures
	ExpansionTime float64 `yaml:"ExpansionTime" json:"expansion_time"`

	// Mass is the atomic mass in kg
	Mass float64 `yaml:"Mass" json:"mass"`

	// ODMax is the saturation optical density.  Zero disables correction
	ODMax float64 `yaml:"ODMax" json:"odmax"`
}

// DefaultSigma0 is the resonant cross section used when none is given
const DefaultSigma0 = 1.5 / 3.14 * 780e-9 * 780e-9

// DefaultImagingPars returns unit pixel size imaging parameters
func DefaultImagingPars() ImagingPars {
	return ImagingPars{Description: "default", PixelSize: 1, Sigma0: DefaultSigma0}
}

// Presets are the imaging systems on the experiment, keyed by lowercase name
var Presets = map[string]ImagingPars{
	"horizontal": {Description: "horizontal", PixelSize: 6.45 / 2, Sigma0: DefaultSigma0},
	"vertical":   {Description: "vertical", PixelSize: 6.45 / 2.5, Sigma0: DefaultSigma0},
	"bluefox":    {Description: "BlueFox", PixelSize: 7.4, Sigma0: DefaultSigma0},
}

// Preset looks up an imaging system by name, case insensitive
func Preset(name string) (ImagingPars, bool) {
	ip, ok := Presets[strings.ToLower(name)]
	return ip, ok
}

func (ip ImagingPars) String() string {
	return fmt.Sprintf("%s, t_exp = %.1fms, OD_max = %.1f", ip.Description, ip.ExpansionTime, ip.ODMax)
}

// AbsorptionImage computes the optical density -ln((atoms-dark)/(reference-dark)).
// All three frames must share dimensions; dark may be nil.  Pixels where the
// logarithm is not finite are masked.
func AbsorptionImage(atoms, reference, dark *Image) (*Image, error) {
	if atoms.W != reference.W || atoms.H != reference.H {
		return nil, ErrShape
	}
	if dark != nil && (dark.W != atoms.W || dark.H != atoms.H) {
		return nil, ErrShape
	}
	out := make([]float64, len(atoms.Data))
	for i := range out {
		a, r := atoms.Data[i], reference.Data[i]
		if dark != nil {
			a -= dark.Data[i]
			r -= dark.Data[i]
		}
		out[i] = -(math.Log(a) - math.Log(r))
	}
	return New(atoms.W, atoms.H, out)
}

// CorrectSaturation compensates an optical density image for a finite
// saturation density odmax, OD' = ln((1-e^-odmax)/(e^-OD - e^-odmax)).
// Non-finite results are masked.  The fill value becomes odmax, or
// DefaultFill when odmax is zero, in which case values are not modified.
func CorrectSaturation(im *Image, odmax float64) *Image {
	out := im.Clone()
	if odmax <= 0 {
		out.Fill = DefaultFill
		out.MaskNonFinite()
		return out
	}
	emax := math.Exp(-odmax)
	num := 1 - emax
	for i, v := range out.Data {
		out.Data[i] = math.Log(num / (math.Exp(-v) - emax))
	}
	out.Fill = odmax
	out.MaskNonFinite()
	return out
}
