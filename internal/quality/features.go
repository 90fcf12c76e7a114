package quality

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Feature names in the order the score estimator consumes them.
const (
	FieldABV              = "abv"
	FieldIBU              = "ibu"
	FieldSRM              = "srm"
	FieldOG               = "og"
	FieldFG               = "fg"
	FieldCacaoPct         = "cacao_pct"
	FieldFermentationDays = "fermentation_days"
	FieldMaturationDays   = "maturation_days"
)

// FeatureNames lists the measurement fields in vector order.
var FeatureNames = []string{
	FieldABV,
	FieldIBU,
	FieldSRM,
	FieldOG,
	FieldFG,
	FieldCacaoPct,
	FieldFermentationDays,
	FieldMaturationDays,
}

// Vector holds one batch's measurements in FeatureNames order.
type Vector [8]float64

func (v Vector) ABV() float64              { return v[0] }
func (v Vector) IBU() float64              { return v[1] }
func (v Vector) SRM() float64              { return v[2] }
func (v Vector) OG() float64               { return v[3] }
func (v Vector) FG() float64               { return v[4] }
func (v Vector) CacaoPct() float64         { return v[5] }
func (v Vector) FermentationDays() float64 { return v[6] }
func (v Vector) MaturationDays() float64   { return v[7] }

// Slice returns a copy of the vector as a slice.
func (v Vector) Slice() []float64 {
	out := make([]float64, len(v))
	copy(out, v[:])
	return out
}

// ValidationError reports a user-correctable problem with one input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Normalize parses the raw submitted fields into a Vector. Fields are checked
// in vector order and the first problem found is returned.
func Normalize(raw map[string]string) (Vector, error) {
	var v Vector
	for i, name := range FeatureNames {
		value, err := parseField(name, raw[name])
		if err != nil {
			return Vector{}, err
		}
		v[i] = value
	}

	if v.FG() >= v.OG() {
		return Vector{}, Invalid(FieldFG, "must be lower than og")
	}
	return v, nil
}

func parseField(name, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, Invalid(name, "is required")
	}
	// Accept "6,5" as well as "6.5".
	raw = strings.Replace(raw, ",", ".", 1)

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, Invalid(name, "must be a number")
	}
	if value < 0 {
		return 0, Invalid(name, "must not be negative")
	}
	return value, nil
}

// Measurements returns the vector as a field map, the inverse of Normalize.
func (v Vector) Measurements() map[string]float64 {
	out := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}
