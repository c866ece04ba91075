package expander

import (
	"fmt"
	"math"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// Design wavelengths (meters) and the expander material's refractive index at each.
const (
	Wavelength660 = 660e-9
	Wavelength517 = 517e-9
	Wavelength450 = 450e-9

	RefractiveIndex660 = 1.5081
	RefractiveIndex517 = 1.5159
	RefractiveIndex450 = 1.5223
)

// Wavelength selects one of the three design wavelengths.
type Wavelength int

const (
	Red Wavelength = iota
	Green
	Blue
)

func (w Wavelength) String() string {
	switch w {
	case Red:
		return "660nm"
	case Green:
		return "517nm"
	case Blue:
		return "450nm"
	}
	return fmt.Sprintf("Wavelength(%d)", int(w))
}

// Meters returns the vacuum wavelength.
func (w Wavelength) Meters() float64 {
	switch w {
	case Red:
		return Wavelength660
	case Green:
		return Wavelength517
	case Blue:
		return Wavelength450
	}
	return math.NaN()
}

// RefractiveIndex returns the expander material index at this wavelength.
func (w Wavelength) RefractiveIndex() float64 {
	switch w {
	case Red:
		return RefractiveIndex660
	case Green:
		return RefractiveIndex517
	case Blue:
		return RefractiveIndex450
	}
	return math.NaN()
}

// Valid reports whether w is one of Red, Green, Blue.
func (w Wavelength) Valid() bool { return w >= Red && w <= Blue }

// HeightToPhase converts a relief height map (meters) into the phase delay
// (2pi/wvl)*(ri-1)*h. With wrap the result is reduced into [0, 2pi).
func HeightToPhase(height holo.Plane, wvl, ri float64, wrap bool) holo.Plane {
	k := 2 * math.Pi / wvl * (ri - 1)
	out := make(holo.Plane, len(height))
	for y, row := range height {
		out[y] = make([]float64, len(row))
		for x, h := range row {
			phi := k * h
			if wrap {
				phi = math.Mod(phi, 2*math.Pi)
				if phi < 0 {
					phi += 2 * math.Pi
				}
			}
			out[y][x] = phi
		}
	}
	return out
}

// PhaseToHeight inverts HeightToPhase for unwrapped phase.
func PhaseToHeight(phase holo.Plane, wvl, ri float64) holo.Plane {
	out := make(holo.Plane, len(phase))
	for y, row := range phase {
		out[y] = make([]float64, len(row))
		for x, phi := range row {
			out[y][x] = (wvl * phi / (2 * math.Pi)) / (ri - 1)
		}
	}
	return out
}
