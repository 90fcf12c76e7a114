package ml

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features as (x - mean) / scale.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// Transform scales x. A zero scale is treated as one, like the trainer does
// for constant features.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) || len(x) != len(s.Scale) {
		return nil, fmt.Errorf("scaler expects %d features, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

// LinearRegressor is an ordinary least squares model.
type LinearRegressor struct {
	Intercept    float64
	Coefficients []float64
}

func (m *LinearRegressor) Predict(x []float64) (float64, error) {
	if len(x) != len(m.Coefficients) {
		return 0, fmt.Errorf("linear model expects %d features, got %d", len(m.Coefficients), len(x))
	}
	y := m.Intercept
	for i, c := range m.Coefficients {
		y += c * x[i]
	}
	return y, nil
}

// Node is one node of a flattened regression tree. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"feature" yaml:"feature"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Left      int     `json:"left" yaml:"left"`
	Right     int     `json:"right" yaml:"right"`
	Value     float64 `json:"value" yaml:"value"`
}

// Tree is a regression tree stored as a node list rooted at index 0.
type Tree struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

func (t *Tree) predict(x []float64) (float64, error) {
	if len(t.Nodes) == 0 {
		return 0, fmt.Errorf("empty tree")
	}
	idx := 0
	// A well-formed tree reaches a leaf in fewer steps than it has nodes.
	for steps := 0; steps <= len(t.Nodes); steps++ {
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, fmt.Errorf("node index %d out of range", idx)
		}
		n := t.Nodes[idx]
		if n.Left == -1 {
			return n.Value, nil
		}
		if n.Feature < 0 || n.Feature >= len(x) {
			return 0, fmt.Errorf("node %d splits on unknown feature %d", idx, n.Feature)
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
	return 0, fmt.Errorf("tree does not terminate")
}

// ForestRegressor averages the predictions of its trees.
type ForestRegressor struct {
	Trees []Tree
}

func (f *ForestRegressor) Predict(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("forest has no trees")
	}
	var sum float64
	for i := range f.Trees {
		v, err := f.Trees[i].predict(x)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		sum += v
	}
	y := sum / float64(len(f.Trees))
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("forest produced non-finite prediction")
	}
	return y, nil
}
