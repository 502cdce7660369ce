// Package catalog holds the read-only ingredient reference data: the nutrient
// table, the price table and the catalog that joins them.
package catalog

import (
	"math"
	"sort"

	"github.com/iwvelando/ration-optimizer/pkg/nutrients"
	"github.com/iwvelando/ration-optimizer/pkg/rationerr"
)

// Ingredient is one catalog entry on a dry-matter basis.
type Ingredient struct {
	ID        string
	Cost      float64
	Nutrients nutrients.Vector
}

// NutrientTable maps ingredient identifiers to nutrient vectors. It is
// immutable once built.
type NutrientTable struct {
	values map[string]nutrients.Vector
}

// NewNutrientTable copies values into a new table. Negative or non-finite
// concentrations are rejected.
func NewNutrientTable(values map[string]nutrients.Vector) (NutrientTable, error) {
	table := NutrientTable{values: make(map[string]nutrients.Vector, len(values))}
	for id, vec := range values {
		for _, n := range nutrients.All() {
			v := vec[n]
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return NutrientTable{}, rationerr.Newf(rationerr.KindMalformedTable,
					"nutrient table: %s of %q must be a non-negative number, got %v", n, id, v).ForIngredient(id)
			}
		}
		table.values[id] = vec
	}
	return table, nil
}

// Lookup returns the nutrient vector for id.
func (t NutrientTable) Lookup(id string) (nutrients.Vector, bool) {
	v, ok := t.values[id]
	return v, ok
}

// Len returns the number of entries.
func (t NutrientTable) Len() int {
	return len(t.values)
}

// PriceTable maps ingredient identifiers to unit cost. Revision labels the
// price snapshot the values were taken from.
type PriceTable struct {
	revision string
	values   map[string]float64
}

// NewPriceTable copies prices into a new table. Negative or non-finite
// prices are rejected.
func NewPriceTable(revision string, prices map[string]float64) (PriceTable, error) {
	table := PriceTable{revision: revision, values: make(map[string]float64, len(prices))}
	for id, p := range prices {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return PriceTable{}, rationerr.Newf(rationerr.KindMalformedTable,
				"price table: cost of %q must be a non-negative number, got %v", id, p).ForIngredient(id)
		}
		table.values[id] = p
	}
	return table, nil
}

// Lookup returns the unit cost for id.
func (t PriceTable) Lookup(id string) (float64, bool) {
	p, ok := t.values[id]
	return p, ok
}

// Revision returns the price snapshot label.
func (t PriceTable) Revision() string {
	return t.revision
}

// Len returns the number of entries.
func (t PriceTable) Len() int {
	return len(t.values)
}

// Catalog joins a nutrient table and a price table.
type Catalog struct {
	nutrients NutrientTable
	prices    PriceTable
}

// New builds a Catalog from its two tables.
func New(nt NutrientTable, pt PriceTable) Catalog {
	return Catalog{nutrients: nt, prices: pt}
}

// FromIngredients builds a Catalog where every ingredient appears in both tables.
func FromIngredients(revision string, ingredients []Ingredient) (Catalog, error) {
	vectors := make(map[string]nutrients.Vector, len(ingredients))
	prices := make(map[string]float64, len(ingredients))
	for _, ing := range ingredients {
		if _, dup := vectors[ing.ID]; dup {
			return Catalog{}, rationerr.Newf(rationerr.KindMalformedTable, "duplicate ingredient %q", ing.ID).ForIngredient(ing.ID)
		}
		vectors[ing.ID] = ing.Nutrients
		prices[ing.ID] = ing.Cost
	}
	nt, err := NewNutrientTable(vectors)
	if err != nil {
		return Catalog{}, err
	}
	pt, err := NewPriceTable(revision, prices)
	if err != nil {
		return Catalog{}, err
	}
	return New(nt, pt), nil
}

// Ingredient returns the joined entry for id. An id missing from either
// table is a MissingIngredientData error.
func (c Catalog) Ingredient(id string) (Ingredient, error) {
	vec, ok := c.nutrients.Lookup(id)
	if !ok {
		return Ingredient{}, rationerr.MissingIngredient(id, "nutrient table")
	}
	cost, ok := c.prices.Lookup(id)
	if !ok {
		return Ingredient{}, rationerr.MissingIngredient(id, "price table")
	}
	return Ingredient{ID: id, Cost: cost, Nutrients: vec}, nil
}

// Ingredients resolves ids in order, failing on the first missing one.
func (c Catalog) Ingredients(ids []string) ([]Ingredient, error) {
	out := make([]Ingredient, 0, len(ids))
	for _, id := range ids {
		ing, err := c.Ingredient(id)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, nil
}

// Known reports whether id appears in at least one of the tables.
func (c Catalog) Known(id string) bool {
	if _, ok := c.nutrients.Lookup(id); ok {
		return true
	}
	_, ok := c.prices.Lookup(id)
	return ok
}

// PriceRevision returns the label of the price snapshot.
func (c Catalog) PriceRevision() string {
	return c.prices.Revision()
}

// IDs returns every identifier present in both tables, sorted.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, c.nutrients.Len())
	for id := range c.nutrients.values {
		if _, ok := c.prices.Lookup(id); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
