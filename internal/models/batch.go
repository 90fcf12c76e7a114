package models

import (
	"time"
)

// ShelfLife is added to the elaboration date to get the expiration date.
const ShelfLife = 180 * 24 * time.Hour

// Lookup image states. A batch is created "pending" and moves to "attached"
// once its QR payload is stored, or "failed" if generation gave up.
const (
	PayloadPending  = "pending"
	PayloadAttached = "attached"
	PayloadFailed   = "failed"
)

// BatchRecord is one logged production batch
type BatchRecord struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	OwnerID         int64     `json:"owner_id"`
	ElaborationDate time.Time `json:"elaboration_date"`
	ExpirationDate  time.Time `json:"expiration_date"`

	// Measurements
	ABV              float64 `json:"abv"`
	IBU              float64 `json:"ibu"`
	SRM              float64 `json:"srm"`
	OG               float64 `json:"og"`
	FG               float64 `json:"fg"`
	CacaoPct         float64 `json:"cacao_pct"`
	FermentationDays float64 `json:"fermentation_days"`
	MaturationDays   float64 `json:"maturation_days"`

	// Assessment
	Score       float64 `json:"score"`
	ScoreSource string  `json:"score_source"` // "model" or "fallback"
	Category    string  `json:"category"`

	// Nutrition (per 100 ml)
	EnergyKcal    float64 `json:"energy_kcal"`
	CarbohydrateG float64 `json:"carbohydrate_g"`
	ProteinG      float64 `json:"protein_g"`
	FatG          float64 `json:"fat_g"`
	SugarG        float64 `json:"sugar_g"`

	LookupImage   []byte    `json:"-"` // PNG, nil until attached
	PayloadStatus string    `json:"payload_status"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasLookupImage reports whether the QR payload has been attached.
func (b *BatchRecord) HasLookupImage() bool {
	return len(b.LookupImage) > 0
}

// Account is a producer login that owns batches.
type Account struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
