package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/machine"
	"flowcraft.ai/internal/sim/network"
	"flowcraft.ai/internal/sim/tuning"
	"flowcraft.ai/internal/sim/volume"
)

var ErrInvalidRecipe = errors.New("invalid recipe")

//go:embed recipes.schema.json
var recipesSchemaJSON string

//go:embed blocks.schema.json
var blocksSchemaJSON string

type Catalogs struct {
	Blocks  BlockCatalog
	Recipes RecipeCatalog
}

type BlockCatalog struct {
	Defs   map[string]BlockDef
	Digest string
}

// BlockDef is a placeable block: a network node (roles per resource type) and/or a machine at a tier.
type BlockDef struct {
	ID      string              `json:"id"`
	Roles   map[string][]string `json:"roles,omitempty"`
	Faces   []string            `json:"faces,omitempty"`
	Machine string              `json:"machine,omitempty"`
	Tier    string              `json:"tier,omitempty"`
}

type RecipeCatalog struct {
	ByID      map[string]*FluidRecipe
	byMachine map[string][]machine.Recipe
	Digest    string
}

type RecipeDef struct {
	RecipeID    string     `json:"recipe_id"`
	Machine     string     `json:"machine"`
	Ingredients []FluidDef `json:"ingredients"`
	Outputs     []FluidDef `json:"outputs"`
	Energy      float64    `json:"energy"`
	Duration    int        `json:"duration"`
}

type FluidDef struct {
	Fluid  string            `json:"fluid"`
	Amount fraction.Fraction `json:"amount"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	return &c, nil
}

// CheckTuning reports machine blocks and recipes that name a machine type or tier tuning does not define.
func (c *Catalogs) CheckTuning(t tuning.Tuning) error {
	for _, id := range c.Blocks.IDs() {
		d := c.Blocks.Defs[id]
		if d.Machine == "" {
			continue
		}
		if _, ok := t.Tier(d.Machine, d.Tier); !ok {
			return fmt.Errorf("blocks.json: block %s: machine %s has no tier %s", id, d.Machine, d.Tier)
		}
	}
	for machineType := range c.Recipes.byMachine {
		if _, ok := t.Layout(machineType); !ok {
			return fmt.Errorf("recipes.json: unknown machine type %s", machineType)
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func validate(name, schemaSrc string, raw []byte) error {
	schema, err := jsonschema.CompileString(name+".schema.json", schemaSrc)
	if err != nil {
		return fmt.Errorf("%s: compile schema: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseBlocks(raw, out)
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	if err := validate("blocks.json", blocksSchemaJSON, raw); err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if _, err := d.NetworkBlock(); err != nil {
			return fmt.Errorf("blocks.json: %w", err)
		}
		out.Defs[d.ID] = d
	}
	return nil
}

// NetworkBlock converts the def into the registry's block type.
func (d BlockDef) NetworkBlock() (network.BlockType, error) {
	b := network.BlockType{ID: d.ID, Roles: map[network.Type]network.Role{}}
	for typeName, roleNames := range d.Roles {
		t, ok := network.ParseType(typeName)
		if !ok {
			return b, fmt.Errorf("block %s: unknown resource type %q", d.ID, typeName)
		}
		var role network.Role
		for _, rn := range roleNames {
			r, ok := network.ParseRole(rn)
			if !ok {
				return b, fmt.Errorf("block %s: unknown role %q", d.ID, rn)
			}
			role |= r
		}
		b.Roles[t] = role
	}
	for _, f := range d.Faces {
		dir, ok := parseDir(f)
		if !ok {
			return b, fmt.Errorf("block %s: unknown face %q", d.ID, f)
		}
		b.Dirs = b.Dirs.With(dir)
	}
	return b, nil
}

func parseDir(s string) (network.Dir, bool) {
	for _, d := range network.Dirs {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}

// IDs returns the block ids in sorted order.
func (c BlockCatalog) IDs() []string {
	ids := make([]string, 0, len(c.Defs))
	for id := range c.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseRecipes(raw, out)
}

func parseRecipes(raw []byte, out *RecipeCatalog) error {
	if err := validate("recipes.json", recipesSchemaJSON, raw); err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []RecipeDef
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.ByID = map[string]*FluidRecipe{}
	out.byMachine = map[string][]machine.Recipe{}
	for _, d := range defs {
		if _, dup := out.ByID[d.RecipeID]; dup {
			return fmt.Errorf("recipes.json: %s: duplicate id: %w", d.RecipeID, ErrInvalidRecipe)
		}
		r, err := newFluidRecipe(d)
		if err != nil {
			return fmt.Errorf("recipes.json: %w", err)
		}
		out.ByID[d.RecipeID] = r
	}

	ids := make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := out.ByID[id]
		out.byMachine[r.def.Machine] = append(out.byMachine[r.def.Machine], r)
	}
	return nil
}

// RecipesFor lists the recipes of a machine type in recipe id order, which is also the search order.
func (c RecipeCatalog) RecipesFor(machineType string) []machine.Recipe {
	return c.byMachine[machineType]
}

// FluidRecipe is a catalog recipe over fluid stacks.
type FluidRecipe struct {
	def         RecipeDef
	ingredients []machine.Stack
	outputs     []machine.Stack
}

func newFluidRecipe(d RecipeDef) (*FluidRecipe, error) {
	r := &FluidRecipe{def: d}
	for _, f := range d.Ingredients {
		if f.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%s: ingredient %s amount must be > 0: %w", d.RecipeID, f.Fluid, ErrInvalidRecipe)
		}
		r.ingredients = append(r.ingredients, machine.Stack{Kind: volume.Kind(f.Fluid), Amount: f.Amount.Simplify()})
	}
	for _, f := range d.Outputs {
		if f.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%s: output %s amount must be > 0: %w", d.RecipeID, f.Fluid, ErrInvalidRecipe)
		}
		r.outputs = append(r.outputs, machine.Stack{Kind: volume.Kind(f.Fluid), Amount: f.Amount.Simplify()})
	}
	// The engine sums same-kind stacks when it commits; refuse recipes whose sums do not fit.
	for _, stacks := range [][]machine.Stack{r.ingredients, r.outputs} {
		if _, err := fraction.Checked(func() fraction.Fraction { return sumKinds(stacks) }); err != nil {
			return nil, fmt.Errorf("%s: %v: %w", d.RecipeID, err, ErrInvalidRecipe)
		}
	}
	return r, nil
}

func sumKinds(stacks []machine.Stack) fraction.Fraction {
	sums := map[volume.Kind]fraction.Fraction{}
	for _, s := range stacks {
		sums[s.Kind] = sums[s.Kind].Add(s.Amount).Simplify()
	}
	return fraction.Zero
}

func (r *FluidRecipe) ID() string                   { return r.def.RecipeID }
func (r *FluidRecipe) Machine() string              { return r.def.Machine }
func (r *FluidRecipe) Energy() float64              { return r.def.Energy }
func (r *FluidRecipe) Duration() int                { return r.def.Duration }
func (r *FluidRecipe) Ingredients() []machine.Stack { return r.ingredients }
func (r *FluidRecipe) Outputs() []machine.Stack     { return r.outputs }

func (r *FluidRecipe) Matches(inputs []*volume.Volume) bool {
	return machine.HasIngredients(inputs, r.ingredients)
}
