// Package fdc imports FoodData Central CSV downloads as candidate foods.
package fdc

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pantrylab/nutrimatch/internal/model"
)

// Dataset is a FoodData Central download.
type Dataset string

const (
	DatasetFoundation Dataset = "foundation"
	DatasetSRLegacy   Dataset = "sr_legacy"
)

// Files shared by every FoodData Central CSV download.
const (
	FoodFile         = "food.csv"
	FoodNutrientFile = "food_nutrient.csv"
)

// ParseDataset accepts foundation or sr_legacy (case-insensitive, "-" allowed).
func ParseDataset(s string) (Dataset, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case string(DatasetFoundation):
		return DatasetFoundation, nil
	case string(DatasetSRLegacy), "sr":
		return DatasetSRLegacy, nil
	default:
		return "", eris.Errorf("fdc: unknown dataset %q (want foundation or sr_legacy)", s)
	}
}

// MembershipFile lists the fdc_ids that belong to the dataset.
func (d Dataset) MembershipFile() string {
	if d == DatasetSRLegacy {
		return "sr_legacy_food.csv"
	}
	return "foundation_food.csv"
}

// SourceTag is the candidate source written for the dataset's foods.
func (d Dataset) SourceTag() string {
	if d == DatasetSRLegacy {
		return model.SourceSRLegacy
	}
	return model.SourceFoundation
}
