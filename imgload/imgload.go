// Package imgload turns a source picture into a target intensity field for
// one color channel, including the wavelength magnification correction for
// the red and green channels.
package imgload

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/bob-anderson-ok/expanderholo/expander"
	"github.com/bob-anderson-ok/expanderholo/holo"
)

var (
	ErrUnsupportedEncoding = fmt.Errorf("%w: unsupported pixel encoding", holo.ErrConfiguration)
	ErrUnsupportedChannel  = fmt.Errorf("%w: unsupported color channel", holo.ErrConfiguration)
)

// Channel selects which color plane of the source becomes the target.
type Channel string

const (
	White Channel = "w" // luma
	Red   Channel = "r"
	Green Channel = "g"
	Blue  Channel = "b"
)

// Valid reports whether c is one of w, r, g, b.
func (c Channel) Valid() bool {
	switch c {
	case White, Red, Green, Blue:
		return true
	}
	return false
}

// Scale is the magnification of c relative to the blue reference wavelength.
// Channels rendered at the reference scale are 1.
func (c Channel) Scale() float64 {
	switch c {
	case Red:
		return expander.Wavelength450 / expander.Wavelength660
	case Green:
		return expander.Wavelength450 / expander.Wavelength517
	}
	return 1
}

// Wavelength maps c to the expander wavelength it is displayed at. White is
// treated as the blue reference.
func (c Channel) Wavelength() expander.Wavelength {
	switch c {
	case Red:
		return expander.Red
	case Green:
		return expander.Green
	}
	return expander.Blue
}

// Target is a normalized intensity field together with the zero border added
// to align its magnification with the reference channel.
type Target struct {
	Intensity holo.Plane
	Padding   holo.Padding
}

// Load decodes the picture at path and builds the target for ch at
// rows x cols.
func Load(path string, rows, cols int, ch Channel) (t Target, err error) {
	if !ch.Valid() {
		return Target{}, fmt.Errorf("%w %q", ErrUnsupportedChannel, ch)
	}
	f, err := os.Open(path)
	if err != nil {
		return Target{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	img, format, err := image.Decode(f)
	if err != nil {
		return Target{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	t, err = FromImage(img, rows, cols, ch)
	if err != nil {
		return Target{}, fmt.Errorf("%s (%s): %w", path, format, err)
	}
	return t, nil
}

// FromImage builds the target from an already decoded image.
func FromImage(img image.Image, rows, cols int, ch Channel) (Target, error) {
	planes, err := toPlanes(img)
	if err != nil {
		return Target{}, err
	}
	return FromPlanes(planes, rows, cols, ch)
}

// FromPlanes builds the target from float planes, normally scaled to [0,1]:
// either a single gray plane or three planes in r, g, b order. Planes that
// need resizing are resampled at 16-bit precision relative to their own
// value range; values are not clamped.
func FromPlanes(planes []holo.Plane, rows, cols int, ch Channel) (Target, error) {
	if !ch.Valid() {
		return Target{}, fmt.Errorf("%w %q", ErrUnsupportedChannel, ch)
	}
	if rows <= 0 || cols <= 0 {
		return Target{}, fmt.Errorf("%w: target size %dx%d", holo.ErrConfiguration, rows, cols)
	}
	if len(planes) != 1 && len(planes) != 3 {
		return Target{}, fmt.Errorf("%w: %d color planes", ErrUnsupportedEncoding, len(planes))
	}
	src, err := selectChannel(planes, ch)
	if err != nil {
		return Target{}, err
	}
	if r, c := src.Dims(); r == 0 || c == 0 {
		return Target{}, fmt.Errorf("%w: empty source image", holo.ErrConfiguration)
	}

	scale := ch.Scale()
	if scale == 1 {
		return Target{Intensity: resize(src, rows, cols)}, nil
	}

	newR, newC := evenScaled(scale, rows), evenScaled(scale, cols)
	if newR == 0 || newC == 0 {
		return Target{}, fmt.Errorf("%w: target %dx%d too small for channel %q", holo.ErrConfiguration, rows, cols, ch)
	}
	pad := holo.Padding{Rows: (rows - newR) / 2, Cols: (cols - newC) / 2}
	scaled := resize(src, newR, newC)

	out := holo.NewPlane(rows, cols)
	for y, row := range scaled {
		copy(out[y+pad.Rows][pad.Cols:], row)
	}
	return Target{Intensity: out, Padding: pad}, nil
}

// evenScaled returns round(scale*n/2)*2 with ties to even.
func evenScaled(scale float64, n int) int {
	return int(math.RoundToEven(scale*float64(n)/2)) * 2
}

func selectChannel(planes []holo.Plane, ch Channel) (holo.Plane, error) {
	if len(planes) == 1 {
		return planes[0], nil
	}
	rows, cols := planes[0].Dims()
	for _, p := range planes[1:] {
		if r, c := p.Dims(); r != rows || c != cols {
			return nil, fmt.Errorf("%w: color planes differ in size", holo.ErrShapeMismatch)
		}
	}
	switch ch {
	case Red:
		return planes[0], nil
	case Green:
		return planes[1], nil
	case Blue:
		return planes[2], nil
	}
	gray := holo.NewPlane(rows, cols)
	for y := range gray {
		for x := range gray[y] {
			gray[y][x] = 0.299*planes[0][y][x] + 0.587*planes[1][y][x] + 0.114*planes[2][y][x]
		}
	}
	return gray, nil
}

// toPlanes normalizes the 8- and 16-bit image types to [0,1]. Gray images
// give one plane, color images give r, g, b.
func toPlanes(img image.Image) ([]holo.Plane, error) {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		gray := holo.NewPlane(rows, cols)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				g := color.Gray16Model.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.Gray16)
				gray[y][x] = float64(g.Y) / 65535
			}
		}
		return []holo.Plane{gray}, nil

	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.YCbCr, *image.Paletted:
		r, g, bl := holo.NewPlane(rows, cols), holo.NewPlane(rows, cols), holo.NewPlane(rows, cols)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				c := color.NRGBA64Model.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA64)
				r[y][x] = float64(c.R) / 65535
				g[y][x] = float64(c.G) / 65535
				bl[y][x] = float64(c.B) / 65535
			}
		}
		return []holo.Plane{r, g, bl}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedEncoding, img)
}

// resize resamples p to rows x cols with bilinear interpolation on a 16-bit
// gray image. The finite range of p is stretched over the full 16-bit scale
// and mapped back afterwards, so values are not clamped and are kept to
// 1/65535 of that range. NaN samples read as the minimum. A plane that is
// already the right size is returned as a copy.
func resize(p holo.Plane, rows, cols int) holo.Plane {
	inR, inC := p.Dims()
	if inR == rows && inC == cols {
		return p.Clone()
	}
	lo, hi := finiteRange(p)
	if !(hi > lo) {
		return holo.UniformPlane(rows, cols, lo)
	}
	span := hi - lo
	src := image.NewGray16(image.Rect(0, 0, inC, inR))
	for y := 0; y < inR; y++ {
		for x := 0; x < inC; x++ {
			src.SetGray16(x, y, color.Gray16{Y: toCount((p[y][x] - lo) / span)})
		}
	}
	dst := image.NewGray16(image.Rect(0, 0, cols, rows))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := holo.NewPlane(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out[y][x] = lo + span*float64(dst.Gray16At(x, y).Y)/65535
		}
	}
	return out
}

// finiteRange returns the smallest and largest finite values of p, or
// (0, 0) when there are none.
func finiteRange(p holo.Plane) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, row := range p {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func toCount(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(math.Round(v * 65535))
}
