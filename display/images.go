// Package display turns rendered fields and optimizer output into images:
// an auto-stretched 8-bit view, a 16-bit data PNG with a fixed physical scale,
// a wrapped-phase PNG suitable for a modulator, and a loss-curve plot.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// DefaultDataScale maps intensity 1.0 to 4000 counts in a data PNG, which
// leaves headroom for speckle peaks.
const DefaultDataScale = 4000.0

// ErrNoFiniteValues is returned when a view is requested of a matrix that
// holds only NaN and Inf, as a diverged optimization produces.
var ErrNoFiniteValues = errors.New("matrix has no finite values")

func rect(m holo.Plane) (h, w int, err error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return 0, 0, errors.New("empty matrix")
	}
	h, w = len(m), len(m[0])
	for y := 1; y < h; y++ {
		if len(m[y]) != w {
			return 0, 0, errors.New("ragged matrix")
		}
	}
	return h, w, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// GrayData ---- Data PNG (Gray16, fixed physical scaling) ----
// Mapping: Y16 = round(v * scale), clamped to [0, 65535]. Non-finite values
// are written as 0.
func GrayData(m holo.Plane, scale float64) (*image.Gray16, error) {
	h, w, err := rect(m)
	if err != nil {
		return nil, err
	}
	if !(scale > 0) {
		return nil, errors.New("scale must be > 0")
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			y16 := uint16(0)
			if v := m[y][x]; finite(v) {
				y16 = uint16(math.Max(0, math.Min(65535, math.Round(v*scale))))
			}
			// big-endian per pixel
			i := row + 2*x
			img.Pix[i] = uint8(y16 >> 8)
			img.Pix[i+1] = uint8(y16)
		}
	}
	return img, nil
}

// GrayView ---- View PNG (Gray8, percentile stretch) ----
// Maps the pLow..pHigh percentiles of the finite values onto 0..255 and
// clamps. Percentiles are in [0, 100].
func GrayView(m holo.Plane, pLow, pHigh float64) (*image.Gray, error) {
	h, w, err := rect(m)
	if err != nil {
		return nil, err
	}
	if !(0 <= pLow && pLow < pHigh && pHigh <= 100) {
		return nil, errors.New("percentiles must satisfy 0 <= pLow < pHigh <= 100")
	}

	vals := make([]float64, 0, h*w)
	for _, row := range m {
		for _, v := range row {
			if finite(v) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return nil, ErrNoFiniteValues
	}
	sort.Float64s(vals)

	lo := stat.Quantile(pLow/100, stat.LinInterp, vals, nil)
	hi := stat.Quantile(pHigh/100, stat.LinInterp, vals, nil)
	if hi == lo {
		hi = lo + 1
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			v := m[y][x]
			if !finite(v) {
				continue
			}
			t := math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
			img.Pix[row+x] = uint8(math.Round(t * 255))
		}
	}
	return img, nil
}

// PhaseImage maps phase (radians) onto the full 16-bit range after wrapping
// into [0, 2pi), so 65535 counts span one wave.
func PhaseImage(phase holo.Plane) (*image.Gray16, error) {
	h, w, err := rect(phase)
	if err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			v := phase[y][x]
			if !finite(v) {
				return nil, fmt.Errorf("non-finite phase at (%d,%d)", y, x)
			}
			v = math.Mod(v, 2*math.Pi)
			if v < 0 {
				v += 2 * math.Pi
			}
			y16 := uint16(math.Min(65535, math.Floor(v/(2*math.Pi)*65536)))
			i := row + 2*x
			img.Pix[i] = uint8(y16 >> 8)
			img.Pix[i+1] = uint8(y16)
		}
	}
	return img, nil
}

// PhaseFromImage is the inverse of PhaseImage, up to quantization.
func PhaseFromImage(img *image.Gray16) holo.Plane {
	b := img.Bounds()
	out := holo.NewPlane(b.Dy(), b.Dx())
	for y := range out {
		for x := range out[y] {
			out[y][x] = float64(img.Gray16At(x+b.Min.X, y+b.Min.Y).Y) / 65536 * 2 * math.Pi
		}
	}
	return out
}

// SavePNG writes img to filename.
func SavePNG(filename string, img image.Image) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return png.Encode(f, img)
}

// LoadPNG reads a PNG file.
func LoadPNG(filename string) (img image.Image, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	img, err = png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return img, nil
}

// SaveRendering writes the data and view PNGs for one rendered image. When
// m has no finite values the data PNG is still written and the error wraps
// ErrNoFiniteValues.
func SaveRendering(viewFile, dataFile string, m holo.Plane) error {
	data, err := GrayData(m, DefaultDataScale)
	if err != nil {
		return fmt.Errorf("data image: %w", err)
	}
	if err := SavePNG(dataFile, data); err != nil {
		return err
	}
	view, err := GrayView(m, 0.5, 99.5)
	if err != nil {
		return fmt.Errorf("view image: %w", err)
	}
	return SavePNG(viewFile, view)
}
