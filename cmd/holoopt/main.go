// Command holoopt optimizes a modulator phase pattern that, combined with an
// expander preset, reproduces a target image in the far field.
//
// Usage:
//
//	holoopt run.json5
//
// The parameter file is JSON5 (see package config). A .env file in the
// working directory may set EXPANDERHOLO_EXPANDER_DIR and EXPANDERHOLO_DB.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bob-anderson-ok/expanderholo/config"
	"github.com/bob-anderson-ok/expanderholo/display"
	"github.com/bob-anderson-ok/expanderholo/expander"
	"github.com/bob-anderson-ok/expanderholo/holo"
	"github.com/bob-anderson-ok/expanderholo/imgload"
	"github.com/bob-anderson-ok/expanderholo/runstore"
)

const version = "0_3_0"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	args := os.Args
	if len(args) < 2 {
		fmt.Printf("usage: %s <parameter file>\n", filepath.Base(args[0]))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, args[1]); err != nil {
		logger.Error("run failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, paramFile string) error {
	programStart := time.Now()
	fmt.Printf("\nVersion %s\n\n", version)

	params, err := config.Load(paramFile, ".env")
	if err != nil {
		return err
	}
	if params.ShowInput {
		params.Print()
	}

	ch := imgload.Channel(params.Channel)
	propRows, propCols := params.Rows*params.Upsample, params.Cols*params.Upsample

	start := time.Now()
	target, err := imgload.Load(params.ImagePath, propRows, propCols, ch)
	if err != nil {
		return err
	}
	logger.Info("target loaded", "path", params.ImagePath, "channel", ch,
		"pad_rows", target.Padding.Rows, "pad_cols", target.Padding.Cols)

	lib := expander.NewLibrary(params.ExpanderDir, params.CountsPerMeter)
	lib.Logger = logger
	expPhase, err := lib.Phase(params.ExpanderPreset, ch.Wavelength(), params.WrapExpanderPhase)
	if err != nil {
		return err
	}

	var filters holo.FilterCache
	h, err := filters.Get(propCols, propRows, params.PassFraction, params.FilterOrder)
	if err != nil {
		return err
	}
	fmt.Printf("Loading inputs took %s\n", time.Since(start))

	problem := holo.Problem{
		Target:        target.Intensity,
		ExpanderAmp:   expander.UniformAmplitude(propRows, propCols),
		ExpanderPhase: expPhase,
		H:             h,
		Padding:       target.Padding,
		Rows:          params.Rows,
		Cols:          params.Cols,
		Upsample:      params.Upsample,
	}

	start = time.Now()
	res, err := holo.Optimize(ctx, problem, holo.OptimizeOptions{
		Batch:            params.Batch,
		Iterations:       params.Iterations,
		LearningRate:     params.LearningRate,
		Seed:             params.Seed,
		Progress:         holo.LogProgress(logger),
		ProgressEvery:    params.ProgressEvery,
		DetectDivergence: params.DetectDivergence,
	})
	elapsed := time.Since(start)
	switch {
	case res == nil:
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, holo.ErrNumericDivergence):
		// Keep what was computed so far.
		logger.Warn("optimization stopped early", "err", err, "completed", len(res.Losses))
	case err != nil:
		return err
	}
	fmt.Printf("Optimization of %d iterations took %s (final loss %g)\n", len(res.Losses), elapsed, res.FinalLoss())

	rendering, err := holo.Render(problem, nil, res.Phase)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(params.OutputDir, 0o755); err != nil {
		return err
	}
	stem := filepath.Join(params.OutputDir, fmt.Sprintf("%s_%s", params.ExpanderPreset, ch))
	err = display.SaveRendering(stem+"_view.png", stem+"_data.png", rendering.Image)
	switch {
	case errors.Is(err, display.ErrNoFiniteValues):
		logger.Warn("view image not written", "err", err)
	case err != nil:
		return err
	}
	for k, plane := range res.Phase {
		img, err := display.PhaseImage(plane)
		if err != nil {
			logger.Warn("phase not exported", "plane", k, "err", err)
			continue
		}
		if err := display.SavePNG(fmt.Sprintf("%s_phase_%d.png", stem, k), img); err != nil {
			return err
		}
	}
	title := params.Title
	if title == "" {
		title = fmt.Sprintf("%s, channel %s", params.ExpanderPreset, ch)
	}
	if err := display.SaveLossPlot(stem+"_loss.png", title, res.Losses, 1200, 500); err != nil {
		logger.Warn("loss plot not written", "err", err)
	}

	if params.DatabasePath != "" {
		if err := saveRun(ctx, params, target.Padding, res, elapsed); err != nil {
			return fmt.Errorf("run history: %w", err)
		}
	}

	fmt.Printf("Render loss %g, total time %s\n", rendering.Loss, time.Since(programStart))
	return nil
}

func saveRun(ctx context.Context, params *config.Run, pad holo.Padding, res *holo.Result, elapsed time.Duration) error {
	db, err := runstore.Open(params.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	// The run is recorded even when the optimization was interrupted.
	_, err = db.SaveRun(context.WithoutCancel(ctx), &runstore.Run{
		Title:          params.Title,
		ImagePath:      params.ImagePath,
		Channel:        params.Channel,
		ExpanderPreset: params.ExpanderPreset,
		Rows:           params.Rows,
		Cols:           params.Cols,
		Upsample:       params.Upsample,
		Batch:          params.Batch,
		Iterations:     params.Iterations,
		LearningRate:   params.LearningRate,
		PassFraction:   params.PassFraction,
		FilterOrder:    params.FilterOrder,
		Seed:           params.Seed,
		PadRows:        pad.Rows,
		PadCols:        pad.Cols,
		DurationMs:     elapsed.Milliseconds(),
	}, res.Losses, res.Phase)
	return err
}
