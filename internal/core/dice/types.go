package dice

import "errors"

var (
	// ErrMissingDice is returned when a request names no dice.
	ErrMissingDice = errors.New("at least one die spec is required")
	// ErrInvalidDiceSpec is returned when a spec has non-positive sides or count.
	ErrInvalidDiceSpec = errors.New("dice spec requires positive sides and count")
)

// Spec describes a group of identical dice, for example 2d6.
type Spec struct {
	Sides int `json:"sides"`
	Count int `json:"count"`
}

// Request is a seeded roll of one or more dice groups.
type Request struct {
	Dice []Spec
	Seed int64
}

// Roll is the outcome for one Spec.
type Roll struct {
	Sides   int   `json:"sides"`
	Results []int `json:"results"`
	Total   int   `json:"total"`
}

// Result is the outcome for a whole Request.
type Result struct {
	Rolls []Roll `json:"rolls"`
	Total int    `json:"total"`
}
