package experiment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/history"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/modeling"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/plotting"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/render"
)

// ------------------------------------------------------------
// CSV
// ------------------------------------------------------------

func episodeFile(k int) string { return fmt.Sprintf("episode_%d.csv", k+1) }

// episodeColumns lays an episode out as step, x*, pred_x*, u* columns.
func episodeColumns(ep Episode) ([]string, [][]float64) {
	n := len(ep.States)
	nStates, nControls := len(ep.States[0]), len(ep.Controls[0])

	header := []string{"step"}
	cols := [][]float64{make([]float64, n)}
	for j := range cols[0] {
		cols[0][j] = float64(j)
	}

	add := func(name string, rows [][]float64, l int) {
		header = append(header, name)
		c := make([]float64, n)
		for j, row := range rows {
			c[j] = row[l]
		}
		cols = append(cols, c)
	}
	for l := 0; l < nStates; l++ {
		add(fmt.Sprintf("x%d", l), ep.States, l)
	}
	for l := 0; l < nStates; l++ {
		add(fmt.Sprintf("pred_x%d", l), ep.Predicted, l)
	}
	for m := 0; m < nControls; m++ {
		add(fmt.Sprintf("u%d", m), ep.Controls, m)
	}
	return header, cols
}

// writeData writes the update history, the episodes and the validation
// inputs used later by Compare.
func (r *Runner) writeData(res *Result) error {
	dir := res.Dir
	if err := history.WriteUpdates(filepath.Join(dir, HistoryFile), res.Updates); err != nil {
		return err
	}
	for k, ep := range res.Episodes {
		header, cols := episodeColumns(ep)
		if err := history.WriteCSV(filepath.Join(dir, episodeFile(k)), header, cols); err != nil {
			return err
		}
	}
	if r.buf.ValidationFilled() {
		valIn, _ := r.buf.Validation()
		if err := writeValidation(filepath.Join(dir, ValidationFile), valIn, r.buf.NumStates()); err != nil {
			return err
		}
	}
	r.log.Info("saved data", zap.String("dir", dir), zap.Int("episodes", len(res.Episodes)))
	return nil
}

func writeValidation(path string, in mat.Matrix, nStates int) error {
	_, c := in.Dims()
	header := make([]string, c)
	cols := make([][]float64, c)
	for j := 0; j < c; j++ {
		if j < nStates {
			header[j] = fmt.Sprintf("x%d", j)
		} else {
			header[j] = fmt.Sprintf("u%d", j-nStates)
		}
		cols[j] = mat.Col(nil, j, in)
	}
	return history.WriteCSV(path, header, cols)
}

// readValidation reads validation inputs written by writeValidation and
// returns them with the number of state columns.
func readValidation(path string) (*mat.Dense, int, error) {
	header, cols, err := history.ReadCSV(path)
	if err != nil {
		return nil, 0, err
	}
	if len(cols) == 0 || len(cols[0]) == 0 {
		return nil, 0, fmt.Errorf("%s: no validation data", path)
	}
	nStates := 0
	for _, h := range header {
		if strings.HasPrefix(h, "x") {
			nStates++
		}
	}
	if nStates == 0 || nStates == len(header) {
		return nil, 0, fmt.Errorf("%s: expected state and control columns, got %v", path, header)
	}

	rows := len(cols[0])
	in := mat.NewDense(rows, len(cols), nil)
	for j, c := range cols {
		in.SetCol(j, c)
	}
	return in, nStates, nil
}

// Compare rolls the initial and final models of a finished experiment out
// over its validation data and, unless noPlot, redraws the comparison
// figures.
func Compare(dir string, noPlot bool, log *zap.Logger) ([]modeling.Rollout, error) {
	valIn, nStates, err := readValidation(filepath.Join(dir, ValidationFile))
	if err != nil {
		return nil, err
	}
	rollouts, err := modeling.CompareModels(dir, valIn, nStates)
	if err != nil {
		return nil, err
	}
	for _, ro := range rollouts {
		log.Info("model comparison", zap.String("model", ro.Name), zap.Float64("rmse", ro.RMSE()))
	}
	if !noPlot {
		if err := plotRollouts(dir, rollouts); err != nil {
			return nil, err
		}
	}
	return rollouts, nil
}

// ------------------------------------------------------------
// Figures
// ------------------------------------------------------------

func plotsDir(dir string) string { return filepath.Join(dir, "plots") }

func (r *Runner) plot(res *Result) error {
	out := plotsDir(res.Dir)

	if len(res.Updates) > 0 {
		valLoss := make([]float64, len(res.Updates))
		for i, u := range res.Updates {
			valLoss[i] = u.ValLoss
		}
		if err := plotting.SaveLoss(filepath.Join(out, "loss.png"), valLoss); err != nil {
			return err
		}
	} else {
		r.log.Warn("no model updates; skipping loss plot")
	}

	for k, ep := range res.Episodes {
		tr := plotting.Trajectory{
			Title:     fmt.Sprintf("Episode %d out of %d", k+1, len(res.Episodes)),
			States:    ep.States,
			Predicted: ep.Predicted,
			Controls:  ep.Controls,
			Updates:   updateSteps(res.Updates, k),
		}
		if err := plotting.SaveTrajectory(filepath.Join(out, fmt.Sprintf("episode_%d.png", k+1)), tr); err != nil {
			return err
		}
	}

	if err := plotRollouts(res.Dir, res.Rollouts); err != nil {
		return err
	}
	r.log.Info("saved plots", zap.String("dir", out))
	return nil
}

func plotRollouts(dir string, rollouts []modeling.Rollout) error {
	for _, ro := range rollouts {
		name := strings.TrimSuffix(ro.Name, filepath.Ext(ro.Name))
		tr := plotting.Trajectory{
			Title:     "Model comparison: " + name,
			States:    ro.States,
			Predicted: ro.Predicted,
			Controls:  ro.Controls,
		}
		if err := plotting.SaveTrajectory(filepath.Join(plotsDir(dir), "compare_"+name+".png"), tr); err != nil {
			return err
		}
	}
	return nil
}

// ------------------------------------------------------------
// Frames
// ------------------------------------------------------------

func (r *Runner) renderFrames(ctx context.Context, res *Result) error {
	out := r.cfg.Output
	scene := render.SceneFor(r.plant, out.FrameWidth, out.FrameHeight)

	for k, ep := range res.Episodes {
		actual := make([]render.Pose, len(ep.States))
		predicted := make([]render.Pose, len(ep.States))
		controls := make([]float64, len(ep.States))
		for j := range ep.States {
			actual[j] = render.PoseOf(r.plant, ep.States[j])
			predicted[j] = render.PoseOf(r.plant, ep.Predicted[j])
			controls[j] = ep.Controls[j][0]
		}

		framesDir := filepath.Join(res.Dir, "frames", fmt.Sprintf("episode_%d", k+1))
		n, err := render.WriteFrames(framesDir, scene, actual, predicted, controls, updateSteps(res.Updates, k))
		if err != nil {
			return err
		}
		r.log.Info("rendered frames", zap.Int("episode", k+1), zap.Int("frames", n), zap.String("dir", framesDir))

		mp4 := filepath.Join(res.Dir, fmt.Sprintf("episode_%d.mp4", k+1))
		if _, err := render.EncodeMP4(ctx, framesDir, out.VideoFPS, mp4, r.log); err != nil {
			r.log.Warn("cannot encode video", zap.Int("episode", k+1), zap.Error(err))
		}
	}
	return nil
}
