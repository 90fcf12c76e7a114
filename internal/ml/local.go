package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/franckalain/chocobrew/internal/quality"
	"gopkg.in/yaml.v3"
)

// bundleFile is the on-disk layout written by the training export.
type bundleFile struct {
	Version  string   `json:"version" yaml:"version"`
	Features []string `json:"features" yaml:"features"`
	Scaler   struct {
		Mean  []float64 `json:"mean" yaml:"mean"`
		Scale []float64 `json:"scale" yaml:"scale"`
	} `json:"scaler" yaml:"scaler"`
	Model struct {
		Type         string    `json:"type" yaml:"type"` // "linear" or "random_forest"
		Intercept    float64   `json:"intercept" yaml:"intercept"`
		Coefficients []float64 `json:"coefficients" yaml:"coefficients"`
		Trees        []Tree    `json:"trees" yaml:"trees"`
	} `json:"model" yaml:"model"`
}

// FileLoader loads a model bundle from a JSON or YAML file.
type FileLoader struct {
	Path string
}

// NewFileLoader creates a loader for the bundle at path
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{Path: path}
}

// Load reads, decodes and validates the bundle.
func (l *FileLoader) Load(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model bundle: %w", err)
	}

	var file bundleFile
	switch strings.ToLower(filepath.Ext(l.Path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	default:
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse model bundle %s: %w", l.Path, err)
	}

	return file.bundle()
}

func (f *bundleFile) bundle() (*Bundle, error) {
	n := len(quality.FeatureNames)
	if len(f.Features) != n {
		return nil, fmt.Errorf("bundle has %d features, want %d", len(f.Features), n)
	}
	for i, name := range quality.FeatureNames {
		if f.Features[i] != name {
			return nil, fmt.Errorf("bundle feature %d is %q, want %q", i, f.Features[i], name)
		}
	}
	if len(f.Scaler.Mean) != n || len(f.Scaler.Scale) != n {
		return nil, fmt.Errorf("scaler must have %d means and scales", n)
	}

	var reg Regressor
	switch f.Model.Type {
	case "linear":
		if len(f.Model.Coefficients) != n {
			return nil, fmt.Errorf("linear model has %d coefficients, want %d", len(f.Model.Coefficients), n)
		}
		reg = &LinearRegressor{Intercept: f.Model.Intercept, Coefficients: f.Model.Coefficients}
	case "random_forest":
		if len(f.Model.Trees) == 0 {
			return nil, fmt.Errorf("random forest has no trees")
		}
		reg = &ForestRegressor{Trees: f.Model.Trees}
	default:
		return nil, fmt.Errorf("unsupported model type in bundle: %q", f.Model.Type)
	}

	return &Bundle{
		Version:   f.Version,
		Features:  f.Features,
		Scaler:    &StandardScaler{Mean: f.Scaler.Mean, Scale: f.Scaler.Scale},
		Regressor: reg,
	}, nil
}
