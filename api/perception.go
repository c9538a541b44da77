package api

import "math"

// Perception offsets applied to each action before the Schwefel term.
const (
	offsetAction1 = -620.0
	offsetAction2 = 320.0
	offsetAction3 = 720.0
	offsetAction4 = -820.0
)

// Perception computes the derived perception score from the four action
// parameters. The surface is a shifted Schwefel function, so the score is
// minimal when every shifted action lands on the Schwefel optimum.
func Perception(a1, a2, a3, a4 float64) float64 {
	return 4*418.9829 - (schwefelTerm(a1+offsetAction1) +
		schwefelTerm(a2+offsetAction2) +
		schwefelTerm(a3+offsetAction3) +
		schwefelTerm(a4+offsetAction4))
}

func schwefelTerm(x float64) float64 {
	return x * math.Sin(math.Sqrt(math.Abs(x)))
}
