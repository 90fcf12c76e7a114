package quality

// Category is the ordered quality label derived from a score.
type Category string

const (
	CategoryRegular   Category = "Regular"
	CategoryGood      Category = "Good"
	CategoryVeryGood  Category = "Very Good"
	CategoryExcellent Category = "Excellent"
	CategoryPremium   Category = "Premium"
)

// bands are checked from the highest threshold down; a score equal to a
// threshold belongs to the higher band.
var bands = []struct {
	min      float64
	category Category
}{
	{4.5, CategoryPremium},
	{4.0, CategoryExcellent},
	{3.5, CategoryVeryGood},
	{3.0, CategoryGood},
}

// Classify maps a score to its category. It is total: anything below the
// lowest threshold, NaN included, is Regular.
func Classify(score float64) Category {
	for _, b := range bands {
		if score >= b.min {
			return b.category
		}
	}
	return CategoryRegular
}

// Rank orders categories from 0 (Regular) to 4 (Premium). Unknown labels rank -1.
func (c Category) Rank() int {
	switch c {
	case CategoryRegular:
		return 0
	case CategoryGood:
		return 1
	case CategoryVeryGood:
		return 2
	case CategoryExcellent:
		return 3
	case CategoryPremium:
		return 4
	}
	return -1
}
