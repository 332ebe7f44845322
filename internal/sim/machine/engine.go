package machine

import (
	"flowcraft.ai/internal/sim/fraction"
	"flowcraft.ai/internal/sim/volume"
)

// Phase is where the engine is in its recipe cycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSearching
	PhaseMatched
	PhaseAdvancing
	PhaseCompleting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSearching:
		return "searching"
	case PhaseMatched:
		return "matched"
	case PhaseAdvancing:
		return "advancing"
	case PhaseCompleting:
		return "completing"
	}
	return "unknown"
}

// Status is the outcome of one engine tick.
type Status uint8

const (
	StatusInactive Status = iota
	StatusActive
	StatusCompleted
	// StatusStalled means the recipe finished but the outputs could not take the result; nothing was
	// consumed and the commit is retried next tick.
	StatusStalled
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusStalled:
		return "stalled"
	}
	return "unknown"
}

type Result struct {
	Status   Status
	Recipe   string
	Progress float64
	Speed    float64
}

// DefaultLimit is the neutral duration reported while no recipe is held.
const DefaultLimit = 100

var minDebit = fraction.New(1, 1000)

// Env is the part of a machine the engine works on.
type Env struct {
	Recipes []Recipe
	Inputs  []*volume.Volume
	Outputs []*volume.Volume
	Energy  *volume.Volume
	Speed   float64
}

// Engine is the recipe state machine of one processing entity. Recipes are only searched after
// MarkDirty; a fresh engine starts dirty.
type Engine struct {
	phase    Phase
	recipe   Recipe
	progress float64
	limit    int
	dirty    bool
}

func NewEngine() *Engine {
	return &Engine{phase: PhaseSearching, limit: DefaultLimit, dirty: true}
}

// MarkDirty schedules a recipe search for the next tick. Wired to input volume listeners.
func (e *Engine) MarkDirty() {
	e.dirty = true
	e.phase = PhaseSearching
}

func (e *Engine) Dirty() bool       { return e.dirty }
func (e *Engine) Phase() Phase      { return e.phase }
func (e *Engine) Recipe() Recipe    { return e.recipe }
func (e *Engine) Progress() float64 { return e.progress }
func (e *Engine) Limit() int        { return e.limit }

func (e *Engine) reset() {
	e.recipe = nil
	e.progress = 0
	e.limit = DefaultLimit
	e.phase = PhaseIdle
}

func (e *Engine) search(env Env) {
	e.dirty = false
	e.recipe = nil
	for _, r := range env.Recipes {
		if r.Matches(env.Inputs) {
			e.recipe = r
			e.limit = r.Duration()
			if e.limit <= 0 {
				e.limit = 1
			}
			e.phase = PhaseMatched
			return
		}
	}
	e.reset()
}

func (e *Engine) result(s Status, speed float64) Result {
	r := Result{Status: s, Progress: e.progress, Speed: speed}
	if e.recipe != nil {
		r.Recipe = e.recipe.ID()
	}
	return r
}

// Tick advances the engine once.
func (e *Engine) Tick(env Env) Result {
	if e.dirty {
		e.phase = PhaseSearching
		e.search(env)
	}
	if e.recipe == nil {
		return e.result(StatusInactive, 0)
	}
	if !e.recipe.Matches(env.Inputs) {
		// Inputs changed under the cached recipe without a dirty mark; search again next tick.
		e.reset()
		e.dirty = true
		return e.result(StatusInactive, 0)
	}

	limit := float64(e.limit)
	speed := env.Speed
	if rest := limit - e.progress; rest < speed {
		speed = rest
	}
	if speed <= 0 {
		speed = 0
		if e.progress < limit {
			return e.result(StatusInactive, 0)
		}
	}

	debit := fraction.Zero
	if cost := e.recipe.Energy(); cost > 0 && speed > 0 {
		available := fraction.Zero
		if env.Energy != nil {
			available = env.Energy.Amount()
		}
		needed := cost * speed / limit
		debit = fraction.OfDecimal(needed)
		if debit.IsZero() {
			// Costs below half a thousandth still take the smallest step.
			debit = minDebit
		}
		if debit.Greater(available) {
			if available.Sign() <= 0 {
				return e.result(StatusInactive, 0)
			}
			// Throttle to what the stored energy pays for and take all of it.
			speed = available.Float64() * limit / cost
			debit = available
		}
	}

	if e.progress+speed >= limit {
		e.phase = PhaseCompleting
		if !e.canCommit(env, debit) {
			return e.result(StatusStalled, 0)
		}
		e.commit(env, debit)
		done := e.result(StatusCompleted, speed)
		done.Progress = limit
		e.reset()
		e.dirty = true
		return done
	}

	if debit.Sign() > 0 {
		env.Energy.Extract(debit)
	}
	e.progress += speed
	e.phase = PhaseAdvancing
	return e.result(StatusActive, speed)
}

// canCommit checks, without touching anything, that the final increment is affordable, every ingredient
// is present and every output fits.
func (e *Engine) canCommit(env Env, debit fraction.Fraction) bool {
	if debit.Sign() > 0 && (env.Energy == nil || env.Energy.Amount().Less(debit)) {
		return false
	}
	if !HasIngredients(env.Inputs, e.recipe.Ingredients()) {
		return false
	}
	_, ok := planOutputs(env.Outputs, e.recipe.Outputs())
	return ok
}

// commit debits energy, consumes ingredients and produces outputs as one unit. canCommit must hold.
func (e *Engine) commit(env Env, debit fraction.Fraction) {
	plan, _ := planOutputs(env.Outputs, e.recipe.Outputs())
	if debit.Sign() > 0 {
		env.Energy.Extract(debit)
	}
	need := totals(e.recipe.Ingredients())
	for _, kind := range sortedKinds(need) {
		left := need[kind]
		for _, v := range env.Inputs {
			if left.Sign() <= 0 {
				break
			}
			_, left = v.ExtractKind(kind, left)
		}
	}
	for _, p := range plan {
		env.Outputs[p.slot].InsertKind(p.kind, p.amount)
	}
}

type placement struct {
	slot   int
	kind   volume.Kind
	amount fraction.Fraction
}

// planOutputs assigns each output stack to slots: slots already holding the kind first, then slots that
// would accept it, in slot order. ok is false when something does not fit.
func planOutputs(slots []*volume.Volume, outs []Stack) ([]placement, bool) {
	kinds := make([]volume.Kind, len(slots))
	free := make([]fraction.Fraction, len(slots))
	for i, v := range slots {
		kinds[i] = v.Kind()
		free[i] = v.Space()
	}
	var plan []placement
	for _, s := range outs {
		if s.Kind == volume.KindNone || s.Amount.Sign() <= 0 {
			continue
		}
		left := s.Amount
		for pass := 0; pass < 2 && left.Sign() > 0; pass++ {
			for i, v := range slots {
				if left.Sign() <= 0 {
					break
				}
				holding := kinds[i] == s.Kind && (!v.IsEmpty() || !v.Fixed())
				if pass == 0 && !holding {
					continue
				}
				if pass == 1 && (holding || !(kinds[i] == s.Kind || (!v.Fixed() && kinds[i] == volume.KindNone))) {
					continue
				}
				n := fraction.Min(left, free[i])
				if n.Sign() <= 0 {
					continue
				}
				kinds[i] = s.Kind
				free[i] = free[i].Sub(n).Simplify()
				left = left.Sub(n).Simplify()
				plan = append(plan, placement{slot: i, kind: s.Kind, amount: n})
			}
		}
		if left.Sign() > 0 {
			return nil, false
		}
	}
	return plan, true
}

// restore loads persisted progress; the recipe is searched again on the next tick.
func (e *Engine) restore(progress float64, limit int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if progress < 0 {
		progress = 0
	}
	e.progress = progress
	e.limit = limit
	e.recipe = nil
	e.MarkDirty()
}
