// Package nutrition estimates label nutrition facts for a batch from its
// brewing measurements. Values are per 100 ml.
package nutrition

import "github.com/shopspring/decimal"

const (
	carbsPerGravityPoint  = 0.065
	energyPerGravityPoint = 0.45
	energyPerABV          = 5.6
	proteinBase           = 0.3
	proteinPerCacaoPct    = 0.05
	fatPerCacaoPct        = 0.04
	sugarShareOfCarbs     = 0.25
)

// Facts holds the derived nutrition metrics.
type Facts struct {
	EnergyKcal    float64 `json:"energy_kcal"`
	CarbohydrateG float64 `json:"carbohydrate_g"`
	ProteinG      float64 `json:"protein_g"`
	FatG          float64 `json:"fat_g"`
	SugarG        float64 `json:"sugar_g"`
}

// Estimate derives nutrition facts from alcohol by volume, cacao percentage
// and original gravity. Inputs are expected to be validated already.
func Estimate(abv, cacaoPct, og float64) Facts {
	points := (og - 1) * 1000
	carbs := carbsPerGravityPoint * points

	return Facts{
		EnergyKcal:    round2(energyPerGravityPoint*points + energyPerABV*abv),
		CarbohydrateG: round2(carbs),
		ProteinG:      round2(proteinBase + proteinPerCacaoPct*cacaoPct),
		FatG:          round2(fatPerCacaoPct * cacaoPct),
		SugarG:        round2(sugarShareOfCarbs * carbs),
	}
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
