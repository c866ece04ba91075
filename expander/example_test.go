package expander_test

import (
	"fmt"

	"github.com/bob-anderson-ok/expanderholo/expander"
	"github.com/bob-anderson-ok/expanderholo/holo"
)

func ExampleHeightToPhase() {
	w := expander.Green
	// Relief that delays the wave by exactly one period.
	oneWave := w.Meters() / (w.RefractiveIndex() - 1)
	height := holo.Plane{{0, oneWave / 4, oneWave}}

	fmt.Printf("%.4f\n", expander.HeightToPhase(height, w.Meters(), w.RefractiveIndex(), false)[0])
	fmt.Printf("%.4f\n", expander.HeightToPhase(height, w.Meters(), w.RefractiveIndex(), true)[0][:2])
	fmt.Println(w, len(expander.Presets), "presets")
	// Output:
	// [0.0000 1.5708 6.2832]
	// [0.0000 1.5708]
	// 517nm 12 presets
}
