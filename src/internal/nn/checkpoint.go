package nn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"
)

const checkpointVersion = 1

// Checkpoint is the on-disk form of a Network.
type Checkpoint struct {
	Version   int          `json:"version"`
	CreatedAt string       `json:"created_at"`
	RunID     string       `json:"run_id,omitempty"`
	Config    Config       `json:"config"`
	Layers    []LayerState `json:"layers"`
}

// LayerState holds the weights (in x out) and biases of one layer.
type LayerState struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

// Checkpoint exports the network weights.
func (n *Network) Checkpoint(runID string) Checkpoint {
	ckpt := Checkpoint{
		Version:   checkpointVersion,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		RunID:     runID,
		Config:    n.cfg,
	}
	for _, l := range n.layers {
		r, _ := l.w.Dims()
		w := make([][]float64, r)
		for i := range w {
			w[i] = mat.Row(nil, i, l.w)
		}
		ckpt.Layers = append(ckpt.Layers, LayerState{
			Weights: w,
			Bias:    mat.Row(nil, 0, l.b),
		})
	}
	return ckpt
}

// FromCheckpoint rebuilds a network and checks every layer shape.
func FromCheckpoint(ckpt Checkpoint) (*Network, error) {
	if ckpt.Version != checkpointVersion {
		return nil, fmt.Errorf("nn: unsupported checkpoint version %d", ckpt.Version)
	}
	if err := ckpt.Config.validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint config: %w", err)
	}
	n := build(ckpt.Config)
	if len(ckpt.Layers) != len(n.layers) {
		return nil, fmt.Errorf("%w: checkpoint has %d layers, config needs %d", ErrShape, len(ckpt.Layers), len(n.layers))
	}
	for i, l := range n.layers {
		st := ckpt.Layers[i]
		r, c := l.w.Dims()
		if len(st.Weights) != r || len(st.Bias) != c {
			return nil, fmt.Errorf("%w: layer %d", ErrShape, i)
		}
		for j, row := range st.Weights {
			if len(row) != c {
				return nil, fmt.Errorf("%w: layer %d row %d", ErrShape, i, j)
			}
			l.w.SetRow(j, row)
		}
		l.b.SetRow(0, st.Bias)
	}
	return n, nil
}

// Save writes the network as a JSON checkpoint.
func (n *Network) Save(path, runID string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create model directory: %w", err)
	}
	b, err := json.Marshal(n.Checkpoint(runID))
	if err != nil {
		return fmt.Errorf("cannot encode model: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("cannot write model: %w", err)
	}
	return nil
}

// Load reads a JSON checkpoint written by Save.
func Load(path string) (*Network, Checkpoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Checkpoint{}, err
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(b, &ckpt); err != nil {
		return nil, Checkpoint{}, fmt.Errorf("cannot decode model %s: %w", path, err)
	}
	n, err := FromCheckpoint(ckpt)
	if err != nil {
		return nil, Checkpoint{}, err
	}
	return n, ckpt, nil
}
