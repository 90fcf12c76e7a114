package ml

import (
	"fmt"
	"math"

	"github.com/franckalain/chocobrew/internal/quality"
	"go.uber.org/zap"
)

const (
	MinScore = 0.0
	MaxScore = 5.0
)

// Fallback formula coefficients.
const (
	fallbackBase       = 2.5
	fallbackABV        = 0.08
	fallbackCacaoPct   = 0.15
	fallbackIBU        = -0.008
	fallbackMaturation = 0.02
)

// Source names the path that produced a score.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Estimate is a clipped score and the path that produced it.
type Estimate struct {
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

// ModelInferenceError wraps a failure from the scaler or regressor. It never
// leaves the estimator.
type ModelInferenceError struct {
	Err error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("model inference failed: %v", e.Err)
}

func (e *ModelInferenceError) Unwrap() error { return e.Err }

// Observer is notified about every estimate.
type Observer interface {
	ObserveEstimate(source string)
	ObserveInferenceFailure()
}

// Estimator scores normalized measurement vectors.
type Estimator struct {
	state    ModelState
	log      *zap.Logger
	observer Observer
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithObserver reports estimates to o.
func WithObserver(o Observer) Option {
	return func(e *Estimator) { e.observer = o }
}

// NewEstimator creates an estimator over a fixed model state.
func NewEstimator(state ModelState, log *zap.Logger, opts ...Option) *Estimator {
	if state == nil {
		state = Absent{Reason: "no model state"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Estimator{state: state, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the model state the estimator was built with.
func (e *Estimator) State() ModelState {
	return e.state
}

// Estimate scores v. Inference failures fall back to the formula.
func (e *Estimator) Estimate(v quality.Vector) Estimate {
	est := Estimate{Source: SourceFallback}

	if loaded, ok := e.state.(Loaded); ok {
		score, err := infer(loaded.Bundle, v.Slice())
		if err == nil {
			est = Estimate{Score: score, Source: SourceModel}
		} else {
			e.log.Warn("Model inference failed, using fallback", zap.Error(err))
			if e.observer != nil {
				e.observer.ObserveInferenceFailure()
			}
		}
	}
	if est.Source == SourceFallback {
		est.Score = Fallback(v)
	}
	est.Score = Clip(est.Score)

	if e.observer != nil {
		e.observer.ObserveEstimate(string(est.Source))
	}
	return est
}

func infer(b *Bundle, x []float64) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ModelInferenceError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if b == nil || b.Scaler == nil || b.Regressor == nil {
		return 0, &ModelInferenceError{Err: fmt.Errorf("incomplete bundle")}
	}
	scaled, err := b.Scaler.Transform(x)
	if err != nil {
		return 0, &ModelInferenceError{Err: err}
	}
	y, err := b.Regressor.Predict(scaled)
	if err != nil {
		return 0, &ModelInferenceError{Err: err}
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, &ModelInferenceError{Err: fmt.Errorf("non-finite prediction %v", y)}
	}
	return y, nil
}

// Fallback is the fixed affine score used when no model is available.
func Fallback(v quality.Vector) float64 {
	return fallbackBase +
		fallbackABV*v.ABV() +
		fallbackCacaoPct*v.CacaoPct() +
		fallbackIBU*v.IBU() +
		fallbackMaturation*v.MaturationDays()
}

// Clip bounds a score to [MinScore, MaxScore]. NaN clips to MinScore.
func Clip(score float64) float64 {
	if math.IsNaN(score) {
		return MinScore
	}
	return math.Min(math.Max(score, MinScore), MaxScore)
}
