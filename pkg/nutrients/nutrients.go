// Package nutrients defines the fixed nutrient axes tracked for every
// ingredient and the vector type that carries one value per axis.
package nutrients

import (
	"fmt"
	"strings"
)

// Nutrient indexes one of the tracked nutrient axes.
type Nutrient int

// The nutrient axes, in vector order. Energy is in MJ/kg DM, the rest in
// percent of dry matter.
const (
	ME Nutrient = iota
	CP
	Starch
	NDF
	FeedNDF
)

// Count is the number of nutrient axes.
const Count = 5

var names = [Count]string{"ME", "CP", "Starch", "NDF", "Feed_NDF"}

// All lists every nutrient in vector order.
func All() []Nutrient {
	return []Nutrient{ME, CP, Starch, NDF, FeedNDF}
}

// String returns the canonical nutrient name.
func (n Nutrient) String() string {
	if n < 0 || int(n) >= Count {
		return fmt.Sprintf("Nutrient(%d)", int(n))
	}
	return names[n]
}

// Valid reports whether n is one of the tracked axes.
func (n Nutrient) Valid() bool {
	return n >= 0 && int(n) < Count
}

// Parse resolves a nutrient name. Matching ignores case and treats '-' as '_',
// so "feed-ndf", "feedNDF" and "Feed_NDF" are equivalent.
func Parse(name string) (Nutrient, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	switch key {
	case "me":
		return ME, nil
	case "cp":
		return CP, nil
	case "starch":
		return Starch, nil
	case "ndf":
		return NDF, nil
	case "feed_ndf", "feedndf":
		return FeedNDF, nil
	}
	return 0, fmt.Errorf("unknown nutrient %q", name)
}

// Vector holds one concentration per nutrient axis.
type Vector [Count]float64

// FromSlice builds a Vector from exactly Count values.
func FromSlice(values []float64) (Vector, error) {
	var v Vector
	if len(values) != Count {
		return v, fmt.Errorf("nutrient vector needs %d values, got %d", Count, len(values))
	}
	copy(v[:], values)
	return v, nil
}

// Get returns the value for nutrient n.
func (v Vector) Get(n Nutrient) float64 {
	return v[n]
}

// Scaled returns v multiplied by f.
func (v Vector) Scaled(f float64) Vector {
	var out Vector
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}

// Add returns the element-wise sum of v and o.
func (v Vector) Add(o Vector) Vector {
	var out Vector
	for i := range v {
		out[i] = v[i] + o[i]
	}
	return out
}

// Map returns v keyed by canonical nutrient name.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, Count)
	for _, n := range All() {
		out[n.String()] = v[n]
	}
	return out
}
