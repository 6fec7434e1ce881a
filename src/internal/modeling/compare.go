package modeling

import (
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/nn"
)

// Rollout is an open-loop prediction of a recorded trajectory.
type Rollout struct {
	Name      string
	States    [][]float64 // recorded
	Predicted [][]float64 // model
	Controls  [][]float64 // recorded, applied to both
}

// SplitInputs separates the state and control columns of experience inputs.
func SplitInputs(in mat.Matrix, nStates int) (states, controls [][]float64) {
	r, c := in.Dims()
	for i := 0; i < r; i++ {
		row := mat.Row(nil, i, in)
		states = append(states, row[:nStates])
		controls = append(controls, row[nStates:c])
	}
	return states, controls
}

// RollOut starts from states[0] and repeatedly feeds the model its own
// prediction together with the recorded controls.
func RollOut(net *nn.Network, states, controls [][]float64) ([][]float64, error) {
	if len(states) == 0 || len(states) != len(controls) {
		return nil, fmt.Errorf("modeling: rollout needs matching non-empty states and controls, got %d and %d", len(states), len(controls))
	}
	pred := make([][]float64, len(states))
	current := append([]float64(nil), states[0]...)
	control := controls[0]
	pred[0] = current

	for j := 1; j < len(states); j++ {
		next, err := PredictNext(net, current, control)
		if err != nil {
			return nil, fmt.Errorf("modeling: rollout step %d: %w", j, err)
		}
		current = next
		control = controls[j]
		pred[j] = current
	}
	return pred, nil
}

// CompareModels loads the initial and final models from dir and rolls each
// out over the validation trajectory.
func CompareModels(dir string, valIn mat.Matrix, nStates int) ([]Rollout, error) {
	states, controls := SplitInputs(valIn, nStates)

	var out []Rollout
	for _, name := range []string{InitialModelFile, FinalModelFile} {
		net, _, err := nn.Load(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("modeling: cannot load %s: %w", name, err)
		}
		pred, err := RollOut(net, states, controls)
		if err != nil {
			return nil, err
		}
		out = append(out, Rollout{
			Name:      name,
			States:    states,
			Predicted: pred,
			Controls:  controls,
		})
	}
	return out, nil
}

// RMSE is the root mean squared error between the recorded and predicted states.
func (r Rollout) RMSE() float64 {
	var s float64
	var n int
	for i := range r.States {
		for j := range r.States[i] {
			d := r.States[i][j] - r.Predicted[i][j]
			s += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(s / float64(n))
}
