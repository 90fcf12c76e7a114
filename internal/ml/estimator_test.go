package ml

import (
	"errors"
	"math"
	"testing"

	"github.com/franckalain/chocobrew/internal/quality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var sample = quality.Vector{6.5, 40, 6, 1.060, 1.012, 8, 6, 10}

type countingObserver struct {
	sources  []string
	failures int
}

func (o *countingObserver) ObserveEstimate(source string) { o.sources = append(o.sources, source) }
func (o *countingObserver) ObserveInferenceFailure()      { o.failures++ }

type regressorFunc func(x []float64) (float64, error)

func (f regressorFunc) Predict(x []float64) (float64, error) { return f(x) }

func identityScaler() *StandardScaler {
	return &StandardScaler{Mean: make([]float64, 8), Scale: []float64{1, 1, 1, 1, 1, 1, 1, 1}}
}

func loadedWith(reg Regressor) Loaded {
	return Loaded{Bundle: &Bundle{Version: "test", Scaler: identityScaler(), Regressor: reg}}
}

func TestFallbackExample(t *testing.T) {
	est := NewEstimator(Absent{}, zap.NewNop()).Estimate(sample)

	assert.Equal(t, SourceFallback, est.Source)
	assert.InDelta(t, 4.1, est.Score, 1e-9)
	assert.Equal(t, quality.CategoryExcellent, quality.Classify(est.Score))
}

func TestFallbackIsClipped(t *testing.T) {
	e := NewEstimator(Absent{}, zap.NewNop())

	high := quality.Vector{15, 0, 6, 1.1, 1.0, 30, 6, 60}
	assert.Equal(t, MaxScore, e.Estimate(high).Score)

	low := quality.Vector{0, 500, 6, 1.05, 1.01, 0, 6, 0}
	assert.Equal(t, MinScore, e.Estimate(low).Score)
}

func TestFallbackEstimateIsClippedFormula(t *testing.T) {
	e := NewEstimator(Absent{}, zap.NewNop())

	// Just under each category threshold, so any rounding would change the band.
	nearThresholds := []struct {
		maturation float64
		want       quality.Category
	}{
		{24.8, quality.CategoryRegular},
		{49.8, quality.CategoryGood},
		{74.8, quality.CategoryVeryGood},
		{99.8, quality.CategoryExcellent},
	}
	for _, tt := range nearThresholds {
		v := quality.Vector{0, 0, 0, 1.05, 1.01, 0, 0, tt.maturation}
		est := e.Estimate(v)
		assert.Equal(t, Clip(Fallback(v)), est.Score, "maturation %v", tt.maturation)
		assert.Equal(t, tt.want, quality.Classify(est.Score), "maturation %v", tt.maturation)
	}

	for abv := 0.0; abv <= 14; abv += 1.75 {
		for cacao := 0.0; cacao <= 24; cacao += 3.3 {
			for ibu := 0.0; ibu <= 120; ibu += 17 {
				for maturation := 0.0; maturation <= 60; maturation += 7.1 {
					v := quality.Vector{abv, ibu, 10, 1.06, 1.01, cacao, 7, maturation}
					raw := Fallback(v)
					want := math.Min(math.Max(raw, MinScore), MaxScore)

					est := e.Estimate(v)
					require.Equal(t, want, est.Score, "vector %v", v)
					require.Equal(t, quality.Classify(want), quality.Classify(est.Score), "vector %v", v)
				}
			}
		}
	}
}

func TestModelScoreNearThresholdKeepsBand(t *testing.T) {
	e := NewEstimator(loadedWith(&LinearRegressor{Intercept: 4.496, Coefficients: make([]float64, 8)}), zap.NewNop())

	est := e.Estimate(sample)
	assert.Equal(t, SourceModel, est.Source)
	assert.Equal(t, 4.496, est.Score)
	assert.Equal(t, quality.CategoryExcellent, quality.Classify(est.Score))
}

func TestEstimateUsesModel(t *testing.T) {
	obs := &countingObserver{}
	reg := &LinearRegressor{Intercept: 3.2, Coefficients: make([]float64, 8)}
	e := NewEstimator(loadedWith(reg), zap.NewNop(), WithObserver(obs))

	est := e.Estimate(sample)
	assert.Equal(t, Estimate{Score: 3.2, Source: SourceModel}, est)
	assert.Equal(t, []string{"model"}, obs.sources)
	assert.Zero(t, obs.failures)
}

func TestEstimateClipsModelOutput(t *testing.T) {
	e := NewEstimator(loadedWith(&LinearRegressor{Intercept: 9, Coefficients: make([]float64, 8)}), nil)
	assert.Equal(t, MaxScore, e.Estimate(sample).Score)

	e = NewEstimator(loadedWith(&LinearRegressor{Intercept: -2, Coefficients: make([]float64, 8)}), nil)
	assert.Equal(t, MinScore, e.Estimate(sample).Score)
}

func TestEstimateDegradesOnInferenceFailure(t *testing.T) {
	failing := map[string]Regressor{
		"error": regressorFunc(func([]float64) (float64, error) { return 0, errors.New("boom") }),
		"panic": regressorFunc(func([]float64) (float64, error) { panic("index out of range") }),
		"nan": regressorFunc(func(x []float64) (float64, error) {
			zero := 0.0
			return zero / zero, nil
		}),
	}

	want := NewEstimator(Absent{}, nil).Estimate(sample)
	for name, reg := range failing {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zapcore.WarnLevel)
			obs := &countingObserver{}
			e := NewEstimator(loadedWith(reg), zap.New(core), WithObserver(obs))

			first := e.Estimate(sample)
			second := e.Estimate(sample)

			assert.Equal(t, want, first)
			assert.Equal(t, first, second)
			assert.Equal(t, 2, obs.failures)
			assert.Equal(t, []string{"fallback", "fallback"}, obs.sources)
			assert.Equal(t, 2, logs.FilterMessage("Model inference failed, using fallback").Len())
		})
	}
}

func TestEstimateScalerMismatchFallsBack(t *testing.T) {
	state := Loaded{Bundle: &Bundle{
		Scaler:    &StandardScaler{Mean: []float64{0}, Scale: []float64{1}},
		Regressor: &LinearRegressor{Coefficients: make([]float64, 8)},
	}}
	est := NewEstimator(state, nil).Estimate(sample)
	assert.Equal(t, SourceFallback, est.Source)
}

func TestInferReturnsModelInferenceError(t *testing.T) {
	_, err := infer(&Bundle{Scaler: identityScaler(), Regressor: regressorFunc(func([]float64) (float64, error) {
		panic("bad")
	})}, sample.Slice())

	var ierr *ModelInferenceError
	require.True(t, errors.As(err, &ierr))
	assert.Contains(t, err.Error(), "panic: bad")
}

func TestNilStateIsAbsent(t *testing.T) {
	e := NewEstimator(nil, nil)
	_, ok := e.State().(Absent)
	assert.True(t, ok)
}

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{Mean: []float64{1, 2}, Scale: []float64{2, 0}}
	out, err := s.Transform([]float64{5, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, out)

	_, err = s.Transform([]float64{1})
	assert.Error(t, err)
}

func TestForestRegressor(t *testing.T) {
	stump := func(threshold, left, right float64) Tree {
		return Tree{Nodes: []Node{
			{Feature: 0, Threshold: threshold, Left: 1, Right: 2},
			{Left: -1, Right: -1, Value: left},
			{Left: -1, Right: -1, Value: right},
		}}
	}
	f := &ForestRegressor{Trees: []Tree{stump(0, 2, 4), stump(1, 3, 5)}}

	y, err := f.Predict([]float64{0.5})
	require.NoError(t, err)
	assert.Equal(t, 3.5, y)

	y, err = f.Predict([]float64{-1})
	require.NoError(t, err)
	assert.Equal(t, 2.5, y)
}

func TestForestRegressorRejectsMalformedTrees(t *testing.T) {
	loop := &ForestRegressor{Trees: []Tree{{Nodes: []Node{{Feature: 0, Left: 0, Right: 0}}}}}
	_, err := loop.Predict([]float64{1})
	assert.Error(t, err)

	outOfRange := &ForestRegressor{Trees: []Tree{{Nodes: []Node{{Feature: 0, Left: 5, Right: 6}}}}}
	_, err = outOfRange.Predict([]float64{1})
	assert.Error(t, err)

	badFeature := &ForestRegressor{Trees: []Tree{{Nodes: []Node{{Feature: 3, Left: 1, Right: 1}, {Left: -1}}}}}
	_, err = badFeature.Predict([]float64{1})
	assert.Error(t, err)
}
