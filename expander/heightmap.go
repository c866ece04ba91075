package expander

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// DefaultCountsPerMeter maps one 16-bit count to 0.1 nm of relief, which covers
// heights up to about 6.5 um.
const DefaultCountsPerMeter = 1e10

// LoadHeightPNG reads a 16-bit grayscale PNG and returns heights in meters:
// height = count / countsPerMeter.
func LoadHeightPNG(filename string, countsPerMeter float64) (height holo.Plane, err error) {
	if !(countsPerMeter > 0) {
		return nil, fmt.Errorf("%w: counts per meter must be > 0, got %g", holo.ErrConfiguration, countsPerMeter)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	g16, ok := img.(*image.Gray16)
	if !ok {
		return nil, fmt.Errorf("%w: height map %s is %T, want 16-bit grayscale", holo.ErrConfiguration, filename, img)
	}

	b := g16.Bounds()
	height = holo.NewPlane(b.Dy(), b.Dx())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			height[y][x] = float64(g16.Gray16At(x+b.Min.X, y+b.Min.Y).Y) / countsPerMeter
		}
	}
	return height, nil
}

// HeightToGray16 quantizes heights to counts = round(h * countsPerMeter),
// clamped to [0, 65535]. Non-finite heights become 0.
func HeightToGray16(height holo.Plane, countsPerMeter float64) (*image.Gray16, error) {
	rows, cols := height.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.New("empty height map")
	}
	if !(countsPerMeter > 0) {
		return nil, errors.New("counts per meter must be > 0")
	}
	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		if len(height[y]) != cols {
			return nil, errors.New("ragged matrix")
		}
		row := y * img.Stride
		for x := 0; x < cols; x++ {
			v := height[y][x]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			u := math.Round(v * countsPerMeter)
			if u < 0 {
				u = 0
			} else if u > 65535 {
				u = 65535
			}
			c := uint16(u)
			// Gray16 Pix is big-endian per pixel
			i := row + 2*x
			img.Pix[i] = uint8(c >> 8)
			img.Pix[i+1] = uint8(c)
		}
	}
	return img, nil
}

// SaveHeightPNG writes a height map in the format LoadHeightPNG reads.
func SaveHeightPNG(filename string, height holo.Plane, countsPerMeter float64) (err error) {
	img, err := HeightToGray16(height, countsPerMeter)
	if err != nil {
		return err
	}
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
