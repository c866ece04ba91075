package runstore

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRun() *Run {
	return &Run{
		Title:          "unit",
		ImagePath:      "cat.png",
		Channel:        "r",
		ExpanderPreset: "random_16x",
		Rows:           4,
		Cols:           3,
		Upsample:       2,
		Batch:          2,
		Iterations:     4,
		LearningRate:   0.1,
		PassFraction:   2,
		FilterOrder:    5,
		Seed:           -7,
		PadRows:        1,
		PadCols:        1,
		DurationMs:     12,
	}
}

func TestSaveAndReadRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	phase := holo.InitialPhase(2, 4, 3, 9)
	phase[1][3][2] = math.Inf(-1)
	losses := []float64{0.4, math.NaN(), 0.2, 0.1}
	id, err := db.SaveRun(ctx, testRun(), losses, phase)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a UUID: %v", id, err)
	}

	run, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Title != "unit" || run.Seed != -7 || run.PadRows != 1 || run.Upsample != 2 {
		t.Errorf("stored run %+v", run)
	}
	if run.FinalLoss() != 0.1 {
		t.Errorf("final loss %g, want 0.1", run.FinalLoss())
	}

	got, err := db.Losses(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0] != 0.4 || !math.IsNaN(got[1]) || got[3] != 0.1 {
		t.Errorf("losses %v, want [0.4 NaN 0.2 0.1]", got)
	}

	back, err := db.Phase(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	for k := range phase {
		for y := range phase[k] {
			for x := range phase[k][y] {
				if math.Float64bits(back[k][y][x]) != math.Float64bits(phase[k][y][x]) {
					t.Fatalf("phase[%d][%d][%d] = %g, want %g", k, y, x, back[k][y][x], phase[k][y][x])
				}
			}
		}
	}
}

func TestDivergedRunHasNaNFinalLoss(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	id, err := db.SaveRun(ctx, testRun(), []float64{math.NaN()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	run, err := db.GetRun(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(run.FinalLoss()) {
		t.Errorf("final loss %g, want NaN", run.FinalLoss())
	}
	if _, err := db.Phase(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Phase of a run without one: %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteRuns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	stamps := []string{"2026-01-01T00:00:00Z", "2026-03-01T00:00:00Z", "2026-02-01T00:00:00Z"}
	ids := make([]string, len(stamps))
	for i, s := range stamps {
		r := testRun()
		r.CreatedAt = s
		id, err := db.SaveRun(ctx, r, []float64{float64(i)}, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	runs, err := db.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != ids[1] || runs[1].ID != ids[2] {
		t.Errorf("ListRuns order wrong: %+v", runs)
	}

	if err := db.DeleteRun(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := db.GetRun(ctx, ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after delete: %v, want ErrNotFound", err)
	}
	if losses, err := db.Losses(ctx, ids[1]); err != nil || len(losses) != 0 {
		t.Errorf("losses after delete: %v, %v", losses, err)
	}
	if err := db.DeleteRun(ctx, ids[1]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: %v, want ErrNotFound", err)
	}
}

func TestListRunsOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	// Trailing fractional zeros are dropped by RFC 3339 formatting.
	stamps := []string{
		"2026-05-01T10:00:05Z",
		"2026-05-01T10:00:05.1Z",
		"2026-05-01T10:00:05.12Z",
		"2026-05-01T12:00:05.3+02:00",
	}
	ids := make([]string, len(stamps))
	for i, s := range stamps {
		r := testRun()
		r.CreatedAt = s
		id, err := db.SaveRun(ctx, r, nil, nil)
		if err != nil {
			t.Fatalf("SaveRun(%s): %v", s, err)
		}
		ids[i] = id
	}

	runs, err := db.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 4 {
		t.Fatalf("got %d runs, want 4", len(runs))
	}
	for i, want := range []string{ids[3], ids[2], ids[1], ids[0]} {
		if runs[i].ID != want {
			t.Errorf("position %d = %s (%s), want %s", i, runs[i].ID, runs[i].CreatedAt, want)
		}
	}
	if runs[0].CreatedAt != "2026-05-01T10:00:05.300000000Z" {
		t.Errorf("CreatedAt = %q, want fixed-width UTC", runs[0].CreatedAt)
	}

	stamp := Timestamp(time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC))
	if stamp != "2026-05-01T10:00:05.000000000Z" {
		t.Errorf("Timestamp = %q", stamp)
	}

	r := testRun()
	r.CreatedAt = "yesterday"
	if _, err := db.SaveRun(ctx, r, nil, nil); err == nil {
		t.Error("SaveRun accepted an unparsable created_at")
	}
}

func TestDecodePhaseRejectsBadBlob(t *testing.T) {
	if _, err := decodePhase(make([]byte, 15), 1, 1, 2); !errors.Is(err, holo.ErrShapeMismatch) {
		t.Errorf("short blob: %v, want ErrShapeMismatch", err)
	}
}
