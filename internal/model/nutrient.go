package model

import "math"

// NutrientKind identifies one tracked nutrient.
type NutrientKind string

const (
	Calories      NutrientKind = "calories"
	Protein       NutrientKind = "protein"
	Fat           NutrientKind = "fat"
	Carbohydrates NutrientKind = "carbohydrates"
	Fiber         NutrientKind = "fiber"
	Sugar         NutrientKind = "sugar"
	Sodium        NutrientKind = "sodium"
	Cholesterol   NutrientKind = "cholesterol"
	SaturatedFat  NutrientKind = "saturated_fat"
	TransFat      NutrientKind = "trans_fat"
	VitaminA      NutrientKind = "vitamin_a"
	VitaminC      NutrientKind = "vitamin_c"
	VitaminD      NutrientKind = "vitamin_d"
	Potassium     NutrientKind = "potassium"
	Calcium       NutrientKind = "calcium"
	Iron          NutrientKind = "iron"
)

type nutrientSpec struct {
	kind   NutrientKind
	fdcID  int    // FoodData Central nutrient id
	column string // ingredient_nutrition column
}

// nutrientSpecs is ordered; column order in every store follows it.
var nutrientSpecs = []nutrientSpec{
	{Calories, 1008, "calories_per_100g"},
	{Protein, 1003, "protein_per_100g"},
	{Fat, 1004, "fat_per_100g"},
	{Carbohydrates, 1005, "carbs_per_100g"},
	{Fiber, 1079, "fiber_per_100g"},
	{Sugar, 2000, "sugar_per_100g"},
	{Sodium, 1093, "sodium_per_100g"},
	{Cholesterol, 1253, "cholesterol_per_100g"},
	{SaturatedFat, 1258, "saturated_fat_per_100g"},
	{TransFat, 1257, "trans_fat_per_100g"},
	{VitaminA, 1106, "vitamin_a_per_100g"},
	{VitaminC, 1162, "vitamin_c_per_100g"},
	{VitaminD, 1114, "vitamin_d_per_100g"},
	{Potassium, 1092, "potassium_per_100g"},
	{Calcium, 1087, "calcium_per_100g"},
	{Iron, 1089, "iron_per_100g"},
}

var (
	specByKind  = make(map[NutrientKind]nutrientSpec, len(nutrientSpecs))
	kindByFDCID = make(map[int]NutrientKind, len(nutrientSpecs))
)

func init() {
	for _, s := range nutrientSpecs {
		specByKind[s.kind] = s
		kindByFDCID[s.fdcID] = s.kind
	}
}

// AllNutrients returns every tracked nutrient in canonical column order.
func AllNutrients() []NutrientKind {
	out := make([]NutrientKind, len(nutrientSpecs))
	for i, s := range nutrientSpecs {
		out[i] = s.kind
	}
	return out
}

// NutrientColumns returns the per-100g column names in canonical order.
func NutrientColumns() []string {
	out := make([]string, len(nutrientSpecs))
	for i, s := range nutrientSpecs {
		out[i] = s.column
	}
	return out
}

// FDCID returns the FoodData Central nutrient id, or 0 for an unknown kind.
func (k NutrientKind) FDCID() int {
	return specByKind[k].fdcID
}

// Column returns the per-100g storage column, or "" for an unknown kind.
func (k NutrientKind) Column() string {
	return specByKind[k].column
}

// Valid reports whether k is one of the tracked nutrients.
func (k NutrientKind) Valid() bool {
	_, ok := specByKind[k]
	return ok
}

// NutrientKindByFDCID maps a FoodData Central nutrient id to its kind.
func NutrientKindByFDCID(id int) (NutrientKind, bool) {
	k, ok := kindByFDCID[id]
	return k, ok
}

// Nutrients holds per-100g values. A missing key means the value is unknown.
type Nutrients map[NutrientKind]float64

// Get returns the value for k and whether it is known.
func (n Nutrients) Get(k NutrientKind) (float64, bool) {
	v, ok := n[k]
	return v, ok
}

// Ptr returns the value for k as a pointer, nil when unknown. Used to bind
// nullable columns.
func (n Nutrients) Ptr(k NutrientKind) *float64 {
	v, ok := n[k]
	if !ok {
		return nil
	}
	return &v
}

// Empty reports whether no nutrient value is known.
func (n Nutrients) Empty() bool {
	return len(n) == 0
}

// Clone returns an independent copy.
func (n Nutrients) Clone() Nutrients {
	if n == nil {
		return nil
	}
	out := make(Nutrients, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// RoundAmount rounds a nutrient amount to 2 decimal places.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
