package holo

import (
	"math"
	"math/rand"
	"testing"
)

func randomPlane(rng *rand.Rand, rows, cols int, lo, hi float64) Plane {
	p := NewPlane(rows, cols)
	for _, row := range p {
		for x := range row {
			row[x] = lo + (hi-lo)*rng.Float64()
		}
	}
	return p
}

// testProblem builds a small problem with a random expander phase and a
// random target in [0.2, 0.8].
func testProblem(t *testing.T, rows, cols, upsample, pad int, seed int64) Problem {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pr, pc := rows*upsample, cols*upsample
	h, err := Butterworth(pc, pr, 2, DefaultFilterOrder)
	if err != nil {
		t.Fatalf("Butterworth: %v", err)
	}
	return Problem{
		Target:        randomPlane(rng, pr, pc, 0.2, 0.8),
		ExpanderAmp:   UniformPlane(pr, pc, 1),
		ExpanderPhase: randomPlane(rng, pr, pc, 0, 2*math.Pi),
		H:             h,
		Padding:       Padding{Rows: pad, Cols: pad},
		Rows:          rows,
		Cols:          cols,
		Upsample:      upsample,
	}
}

func maxAbsDiff(a, b Plane) float64 {
	d := 0.0
	for y := range a {
		for x := range a[y] {
			d = math.Max(d, math.Abs(a[y][x]-b[y][x]))
		}
	}
	return d
}
