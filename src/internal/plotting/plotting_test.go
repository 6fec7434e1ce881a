package plotting

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrajectory(n int) Trajectory {
	tr := Trajectory{Title: "Episode 1 out of 1", Updates: []int{3, 7, 40}}
	for i := 0; i < n; i++ {
		f := float64(i)
		tr.States = append(tr.States, []float64{f, -f, 0.5})
		tr.Predicted = append(tr.Predicted, []float64{f + 0.1, -f, 0.4})
		tr.Controls = append(tr.Controls, []float64{f / 10})
	}
	return tr
}

func decodePNG(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestSaveTrajectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "episode_1.png")
	require.NoError(t, SaveTrajectory(path, sampleTrajectory(20)))

	w, h := decodePNG(t, path)
	assert.Equal(t, 8*dpi, w)
	assert.Greater(t, h, w, "four stacked panels are taller than wide")
}

func TestSaveTrajectory_RejectsMismatch(t *testing.T) {
	tr := sampleTrajectory(5)
	tr.Controls = tr.Controls[:4]
	assert.Error(t, SaveTrajectory(filepath.Join(t.TempDir(), "x.png"), tr))
	assert.Error(t, SaveTrajectory(filepath.Join(t.TempDir(), "y.png"), Trajectory{}))
}

func TestSaveLoss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, SaveLoss(path, []float64{0.5, 0.3, 0.2, 0.15}))
	w, h := decodePNG(t, path)
	assert.Equal(t, 8*dpi, w)
	assert.Equal(t, 5*dpi, h)

	assert.Error(t, SaveLoss(path, nil))
}
