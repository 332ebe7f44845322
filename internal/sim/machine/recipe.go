package machine

import (
	"sort"

	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/volume"
)

// Stack is an amount of one kind, used for recipe ingredients and outputs.
type Stack struct {
	Kind   volume.Kind       `json:"kind"`
	Amount fraction.Fraction `json:"amount"`
}

// Recipe is what the engine needs from a recipe definition.
type Recipe interface {
	ID() string
	// Matches reports whether the input slots hold what the recipe needs.
	Matches(inputs []*volume.Volume) bool
	Energy() float64
	Duration() int
	Ingredients() []Stack
	Outputs() []Stack
}

// RecipeBook resolves the recipes a machine type can run, in search order.
type RecipeBook interface {
	RecipesFor(machineType string) []Recipe
}

// Book is an in-memory RecipeBook.
type Book map[string][]Recipe

func (b Book) RecipesFor(machineType string) []Recipe { return b[machineType] }

// HasIngredients sums each kind across inputs and checks it covers the stacks.
func HasIngredients(inputs []*volume.Volume, stacks []Stack) bool {
	for kind, need := range totals(stacks) {
		have := fraction.Zero
		for _, v := range inputs {
			have = have.Add(v.Available(kind)).Simplify()
		}
		if have.Less(need) {
			return false
		}
	}
	return true
}

func totals(stacks []Stack) map[volume.Kind]fraction.Fraction {
	out := map[volume.Kind]fraction.Fraction{}
	for _, s := range stacks {
		if s.Kind == volume.KindNone || s.Amount.Sign() <= 0 {
			continue
		}
		prev, ok := out[s.Kind]
		if !ok {
			prev = fraction.Zero
		}
		out[s.Kind] = prev.Add(s.Amount).Simplify()
	}
	return out
}

func sortedKinds(m map[volume.Kind]fraction.Fraction) []volume.Kind {
	out := make([]volume.Kind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SimpleRecipe is a Recipe that matches when the inputs hold its ingredients.
type SimpleRecipe struct {
	Name         string
	In           []Stack
	Out          []Stack
	EnergyCost   float64
	DurationTick int
}

func (r *SimpleRecipe) ID() string                           { return r.Name }
func (r *SimpleRecipe) Matches(inputs []*volume.Volume) bool { return HasIngredients(inputs, r.In) }
func (r *SimpleRecipe) Energy() float64                      { return r.EnergyCost }
func (r *SimpleRecipe) Duration() int                        { return r.DurationTick }
func (r *SimpleRecipe) Ingredients() []Stack                 { return r.In }
func (r *SimpleRecipe) Outputs() []Stack                     { return r.Out }
