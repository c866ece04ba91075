package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	// Liberation fonts register automatically on import
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// StepTicks is a tick marker with a fixed step.
type StepTicks struct {
	Step   float64
	Format string
}

func (t StepTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	start := math.Ceil(min/t.Step) * t.Step
	for v := start; v <= max; v += t.Step {
		ticks = append(ticks, plot.Tick{
			Value: v,
			Label: fmt.Sprintf(t.Format, v),
		})
	}
	return ticks
}

func setFonts(p *plot.Plot) {
	for _, f := range []*text.Style{&p.Title.TextStyle, &p.X.Label.TextStyle, &p.Y.Label.TextStyle} {
		f.Font.Typeface = "Liberation"
		f.Font.Variant = "Sans"
		f.Font.Size = vg.Points(12)
	}
	for _, f := range []*text.Style{&p.X.Tick.Label, &p.Y.Tick.Label} {
		f.Font.Typeface = "Liberation"
		f.Font.Variant = "Sans"
		f.Font.Size = vg.Points(10)
	}
}

// lossPoints keeps the finite losses; NaN and Inf iterations are gaps.
func lossPoints(losses []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(losses))
	for i, l := range losses {
		if finite(l) {
			pts = append(pts, plotter.XY{X: float64(i), Y: l})
		}
	}
	return pts
}

// PlotLoss draws the loss per iteration. Non-finite losses are skipped; a run
// with no finite loss is an error.
func PlotLoss(title string, losses []float64, wPx, hPx float64) (image.Image, error) {
	pts := lossPoints(losses)
	if len(pts) == 0 {
		return nil, errors.New("no finite loss values to plot")
	}
	ys := make([]float64, len(pts))
	for i, pt := range pts {
		ys[i] = pt.Y
	}
	lo, hi := floats.Min(ys), floats.Max(ys)
	if hi == lo {
		hi = lo + 1
	}

	p := plot.New()
	setFonts(p)
	p.Title.Text = title
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "clipped MSE"
	p.X.Min = 0
	p.X.Max = math.Max(1, float64(len(losses)-1))
	p.Y.Min = lo
	p.Y.Max = hi

	xStep := math.Max(1, math.Ceil(p.X.Max/10))
	p.X.Tick.Marker = StepTicks{Step: xStep, Format: "%.0f"}
	p.Y.Tick.Marker = StepTicks{Step: (hi - lo) / 8, Format: "%.3g"}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	p.Add(line)

	const dpi = 96
	width := vg.Length(wPx) * vg.Inch / dpi
	height := vg.Length(hPx) * vg.Inch / dpi

	c := vgimg.New(width, height)
	dc := vgdraw.New(c)
	p.Draw(dc)

	return c.Image(), nil
}

// SaveLossPlot renders PlotLoss into a PNG file.
func SaveLossPlot(filename, title string, losses []float64, wPx, hPx float64) (err error) {
	img, err := PlotLoss(title, losses, wPx, hPx)
	if err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return png.Encode(f, img)
}
