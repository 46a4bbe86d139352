package dice

// RobberValue is the production roll that activates the robber.
const RobberValue = 7

// TurnRoll is the two-die production roll taken at the start of a turn.
type TurnRoll struct {
	First  int   `json:"first"`
	Second int   `json:"second"`
	Total  int   `json:"total"`
	Seed   int64 `json:"seed"`
}

// Robber reports whether the roll moves the robber instead of producing.
func (r TurnRoll) Robber() bool {
	return r.Total == RobberValue
}

// RollTurn rolls 2d6 from seed.
func RollTurn(seed int64) TurnRoll {
	result, err := RollDice(Request{Dice: []Spec{{Sides: 6, Count: 2}}, Seed: seed})
	if err != nil {
		// The spec above is constant and valid.
		panic(err)
	}
	values := result.Rolls[0].Results
	return TurnRoll{First: values[0], Second: values[1], Total: result.Total, Seed: seed}
}
