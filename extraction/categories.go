package extraction

import "strings"

// CategoryOther is used for anything outside the vocabulary.
const CategoryOther = "Other"

// Categories is the closed category vocabulary, in prompt order.
var Categories = []string{
	"Dairy",
	"Meat & Seafood",
	"Produce",
	"Bakery",
	"Frozen",
	"Canned Goods",
	"Dry Goods & Pasta",
	"Noodles & Instant Meals",
	"Snacks",
	"Beverages",
	"Condiments & Sauces",
	"Spices & Seasonings",
	"Breakfast",
	CategoryOther,
}

// categoryAliases maps common model answers onto the vocabulary.
var categoryAliases = map[string]string{
	"milk":                "Dairy",
	"cheese":              "Dairy",
	"meat":                "Meat & Seafood",
	"seafood":             "Meat & Seafood",
	"fish":                "Meat & Seafood",
	"fruit":               "Produce",
	"vegetables":          "Produce",
	"bread":               "Bakery",
	"frozen foods":        "Frozen",
	"canned":              "Canned Goods",
	"canned food":         "Canned Goods",
	"pasta":               "Dry Goods & Pasta",
	"grains":              "Dry Goods & Pasta",
	"rice":                "Dry Goods & Pasta",
	"noodles":             "Noodles & Instant Meals",
	"instant noodles":     "Noodles & Instant Meals",
	"ramen":               "Noodles & Instant Meals",
	"instant meals":       "Noodles & Instant Meals",
	"drinks":              "Beverages",
	"beverage":            "Beverages",
	"sauces":              "Condiments & Sauces",
	"condiments":          "Condiments & Sauces",
	"spices":              "Spices & Seasonings",
	"seasonings":          "Spices & Seasonings",
	"cereal":              "Breakfast",
	"snack":               "Snacks",
	"snacks & sweets":     "Snacks",
	"dry goods":           "Dry Goods & Pasta",
	"meat and seafood":    "Meat & Seafood",
	"dry goods and pasta": "Dry Goods & Pasta",
}

// NormalizeCategory maps a model-supplied category onto the vocabulary. ok is
// false when the value had to fall back to CategoryOther.
func NormalizeCategory(raw string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return CategoryOther, false
	}
	for _, c := range Categories {
		if strings.ToLower(c) == key {
			return c, true
		}
	}
	if c, found := categoryAliases[key]; found {
		return c, true
	}
	return CategoryOther, false
}
