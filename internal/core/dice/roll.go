package dice

import "math/rand"

// RollDice rolls dice based on the provided request.
//
// RollDice is deterministic with respect to Request.Seed: the same seed and
// the same Dice slice always produce the same Result. Rolls appear in the
// order of Request.Dice, and Result.Total is the sum of every die rolled.
func RollDice(request Request) (Result, error) {
	return RollWithRng(rand.New(rand.NewSource(request.Seed)), request.Dice)
}

// RollWithRng rolls dice using a provided random source.
func RollWithRng(rng *rand.Rand, specs []Spec) (Result, error) {
	if len(specs) == 0 {
		return Result{}, ErrMissingDice
	}
	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return Result{}, ErrInvalidDiceSpec
		}
	}

	result := Result{Rolls: make([]Roll, 0, len(specs))}
	for _, spec := range specs {
		roll := Roll{Sides: spec.Sides, Results: make([]int, spec.Count)}
		for i := range roll.Results {
			roll.Results[i] = rng.Intn(spec.Sides) + 1
			roll.Total += roll.Results[i]
		}
		result.Rolls = append(result.Rolls, roll)
		result.Total += roll.Total
	}
	return result, nil
}
