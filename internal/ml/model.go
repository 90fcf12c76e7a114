package ml

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNoModel is returned by loaders that have nothing to load.
var ErrNoModel = errors.New("no model configured")

// Regressor predicts a score from a scaled feature vector.
type Regressor interface {
	Predict(x []float64) (float64, error)
}

// Bundle is a trained regressor together with the scaler it was fitted with.
type Bundle struct {
	Version   string
	Features  []string
	Scaler    *StandardScaler
	Regressor Regressor
}

// ModelState records whether a model bundle is available. It is decided once
// at startup and never changes for the life of the process.
type ModelState interface {
	modelState()
}

// Loaded carries a usable model bundle.
type Loaded struct {
	Bundle *Bundle
}

// Absent means scoring always uses the fallback formula.
type Absent struct {
	Reason string
}

func (Loaded) modelState() {}
func (Absent) modelState() {}

// Loader produces a model bundle from external storage.
type Loader interface {
	// Load reads and validates the bundle
	Load(ctx context.Context) (*Bundle, error)
}

type noneLoader struct{}

func (noneLoader) Load(context.Context) (*Bundle, error) {
	return nil, ErrNoModel
}

// NewLoader creates a loader for the configured model type.
func NewLoader(modelType, modelPath string) (Loader, error) {
	switch modelType {
	case "local":
		if modelPath == "" {
			return nil, fmt.Errorf("local model type requires a model path")
		}
		return NewFileLoader(modelPath), nil
	case "", "none":
		return noneLoader{}, nil
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
}

// LoadState runs the loader once. Any failure is logged and yields Absent.
func LoadState(ctx context.Context, loader Loader, log *zap.Logger) ModelState {
	bundle, err := loader.Load(ctx)
	switch {
	case errors.Is(err, ErrNoModel):
		log.Info("No model configured, scoring with fallback formula")
		return Absent{Reason: err.Error()}
	case err != nil:
		log.Warn("Failed to load model, scoring with fallback formula", zap.Error(err))
		return Absent{Reason: err.Error()}
	case bundle == nil:
		return Absent{Reason: "loader returned no bundle"}
	}

	log.Info("Model loaded", zap.String("version", bundle.Version))
	return Loaded{Bundle: bundle}
}
