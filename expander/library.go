// Package expander provides the fixed diffusing element: a registry of named
// height-map presets and the conversion from relief height to phase delay.
package expander

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// ErrUnknownPreset is returned for a key that is not in the registry.
var ErrUnknownPreset = fmt.Errorf("%w: unknown expander preset", holo.ErrConfiguration)

// Presets lists the built-in preset keys. Each names a height map stored as
// <dir>/<key>.png.
var Presets = []string{
	"random_4x",
	"random_16x",
	"random_36x",
	"random_64x",
	"neural_mono_4x",
	"neural_tri_4x",
	"neural_mono_16x",
	"neural_tri_16x",
	"neural_mono_36x",
	"neural_tri_36x",
	"neural_mono_64x",
	"neural_tri_64x",
}

// Loader produces a height map in meters.
type Loader func() (holo.Plane, error)

// Library maps preset keys to loaders.
type Library struct {
	Logger  *slog.Logger
	loaders map[string]Loader
}

// NewLibrary returns a library with every built-in preset bound to a 16-bit
// PNG under dir.
func NewLibrary(dir string, countsPerMeter float64) *Library {
	l := &Library{loaders: make(map[string]Loader, len(Presets))}
	for _, key := range Presets {
		path := filepath.Join(dir, key+".png")
		l.loaders[key] = func() (holo.Plane, error) {
			return LoadHeightPNG(path, countsPerMeter)
		}
	}
	return l
}

// Register adds or replaces a preset.
func (l *Library) Register(key string, fn Loader) {
	if l.loaders == nil {
		l.loaders = make(map[string]Loader)
	}
	l.loaders[key] = fn
}

// Keys returns the registered preset keys in sorted order.
func (l *Library) Keys() []string {
	keys := make([]string, 0, len(l.loaders))
	for k := range l.loaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load returns the height map for key. There is no fallback for unknown keys.
func (l *Library) Load(key string) (holo.Plane, error) {
	fn, ok := l.loaders[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPreset, key)
	}
	if l.Logger != nil {
		l.Logger.Info("loading expander preset", "key", key)
	}
	h, err := fn()
	if err != nil {
		return nil, fmt.Errorf("expander preset %q: %w", key, err)
	}
	return h, nil
}

// Phase loads key and converts it to phase at wavelength w.
func (l *Library) Phase(key string, w Wavelength, wrap bool) (holo.Plane, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %v", holo.ErrConfiguration, w)
	}
	h, err := l.Load(key)
	if err != nil {
		return nil, err
	}
	return HeightToPhase(h, w.Meters(), w.RefractiveIndex(), wrap), nil
}

// UniformAmplitude is the expander amplitude: a fully transmissive element.
func UniformAmplitude(rows, cols int) holo.Plane {
	return holo.UniformPlane(rows, cols, 1)
}
