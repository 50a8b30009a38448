// Package fitsimg reads absorption images from FITS files and writes fit results back out.
package fitsimg

import (
	"io"
	"math"
	"sort"
	"strings"

	"github.com/coldatoms/siscam/fitting"
	"github.com/coldatoms/siscam/imaging"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

var (
	// ErrNotImage is generated when the primary HDU holds no image data
	ErrNotImage = errors.New("primary HDU is not an image")

	// ErrBitpix is generated for an unsupported BITPIX
	ErrBitpix = errors.New("unsupported BITPIX")
)

// Read decodes the primary image HDU of a FITS stream.  BZERO and BSCALE are
// applied and non-finite samples are masked.  For a cube, the first plane is
// returned.
func Read(r io.Reader) (*imaging.Image, error) {
	planes, _, err := readPlanes(r)
	if err != nil {
		return nil, err
	}
	return planes[0], nil
}

// ReadOD decodes an optical density image ready to fit.  A cube without a
// MODEL card holds raw frames: atoms, reference and, optionally, dark.  Their
// absorption image is computed.  Anything else is taken to already hold
// optical densities in its first plane.  The result is corrected for the
// saturation density odmax, see imaging.CorrectSaturation.
func ReadOD(r io.Reader, odmax float64) (*imaging.Image, error) {
	planes, hdr, err := readPlanes(r)
	if err != nil {
		return nil, err
	}
	od := planes[0]
	if len(planes) > 1 && hdr.Get("MODEL") == nil {
		var dark *imaging.Image
		if len(planes) > 2 {
			dark = planes[2]
		}
		od, err = imaging.AbsorptionImage(planes[0], planes[1], dark)
		if err != nil {
			return nil, errors.Wrap(err, "computing absorption image")
		}
	}
	return imaging.CorrectSaturation(od, odmax), nil
}

// readPlanes decodes every plane of the primary image HDU
func readPlanes(r io.Reader) ([]*imaging.Image, *fitsio.Header, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening FITS stream")
	}
	defer f.Close()

	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, nil, ErrNotImage
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, nil, errors.Wrapf(ErrNotImage, "NAXIS=%d", len(axes))
	}
	w, h := axes[0], axes[1]
	if w*h == 0 {
		return nil, nil, errors.Wrapf(ErrNotImage, "%dx%d image", w, h)
	}
	n := 1
	for _, a := range axes {
		n *= a
	}

	data, err := readFloats(hdu, hdr.Bitpix(), n)
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading FITS image data")
	}

	zero, scale := cardFloat(hdr, "BZERO", 0), cardFloat(hdr, "BSCALE", 1)
	if zero != 0 || scale != 1 {
		for i, v := range data {
			data[i] = v*scale + zero
		}
	}
	planes := make([]*imaging.Image, 0, n/(w*h))
	for off := 0; off < n; off += w * h {
		img, err := imaging.New(w, h, data[off:off+w*h:off+w*h])
		if err != nil {
			return nil, nil, err
		}
		planes = append(planes, img)
	}
	return planes, hdr, nil
}

// readFloats reads n samples of the given bitpix as float64
func readFloats(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	switch bitpix {
	case 8:
		buf := make([]uint8, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 16:
		buf := make([]int16, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 32:
		buf := make([]int32, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case 64:
		buf := make([]int64, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case -32:
		buf := make([]float32, n)
		if err := img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			out[i] = float64(v)
		}
	case -64:
		if err := img.Read(&out); err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrBitpix, "BITPIX=%d", bitpix)
	}
	return out, nil
}

// cardFloat returns the numeric value of the named card, or def if it is
// missing or not a number
func cardFloat(hdr *fitsio.Header, name string, def float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return def
	}
	switch v := c.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	}
	return def
}

// Cards returns the header cards describing a fit result: the model, its
// validity, the ROI, the background and every finite named value
func Cards(res fitting.Result) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "MODEL", Value: res.Pars.Description(), Comment: "fit model"},
		{Name: "VALID", Value: res.Pars.Valid(), Comment: "fit passed sanity checks"},
		{Name: "XMIN", Value: res.ROI.XMin, Comment: "ROI"},
		{Name: "XMAX", Value: res.ROI.XMax, Comment: "ROI"},
		{Name: "YMIN", Value: res.ROI.YMin, Comment: "ROI"},
		{Name: "YMAX", Value: res.ROI.YMax, Comment: "ROI"},
	}
	if len(res.Background) > 0 && finite(res.Background[0]) {
		cards = append(cards, fitsio.Card{Name: "BKGND", Value: res.Background[0], Comment: "fitted offset"})
	}

	vals := res.Pars.Values()
	units := map[string]string{}
	for i, n := range res.Pars.Names() {
		if i < len(res.Pars.Units()) {
			// header text is ASCII only
			units[n] = strings.ReplaceAll(res.Pars.Units()[i], "µ", "u")
		}
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := vals[k]
		if !finite(v) {
			continue
		}
		cards = append(cards, fitsio.Card{Name: strings.ToUpper(k), Value: v, Comment: units[k]})
	}
	return cards
}

// WriteFit streams a FITS cube to w holding the data inside the result ROI
// followed by each fit image.  Masked data pixels are written as NaN.
func WriteFit(w io.Writer, data *imaging.Image, res fitting.Result) error {
	if data == nil {
		return errors.New("fitsimg: no data image")
	}
	roi := res.ROI.Clip(data)
	width, height := roi.Width(), roi.Height()
	if width == 0 || height == 0 {
		return errors.Errorf("fitsimg: nothing to write for ROI %v", roi)
	}
	for _, im := range res.Images {
		if im.W != width || im.H != height {
			return errors.Errorf("fitsimg: fit image %dx%d does not match ROI %v", im.W, im.H, roi)
		}
	}

	nframes := 1 + len(res.Images)
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	buf := make([]float64, 0, width*height*nframes)
	for y := roi.YMin; y < roi.YMax; y++ {
		for x := roi.XMin; x < roi.XMax; x++ {
			v := data.At(x, y)
			if data.Masked(x, y) {
				v = math.NaN()
			}
			buf = append(buf, v)
		}
	}
	for _, im := range res.Images {
		buf = append(buf, im.Data...)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	err = im.Header().Append(Cards(res)...)
	if err != nil {
		return err
	}
	err = im.Write(buf)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
