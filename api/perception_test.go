package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerception(t *testing.T) {
	t.Run("ZeroWhenShiftedActionsHitOptimum", func(t *testing.T) {
		// 420.9687 is the Schwefel optimum; undo each offset
		score := Perception(1040.9687, 100.9687, -299.0313, 1240.9687)
		assert.InDelta(t, 0, score, 0.01)
	})

	t.Run("MaxWhenShiftedActionsAreZero", func(t *testing.T) {
		// Each term collapses to 0*sin(0), leaving the constant
		score := Perception(620, -320, -720, 820)
		assert.InDelta(t, 4*418.9829, score, 1e-9)
	})

	t.Run("Deterministic", func(t *testing.T) {
		a := Perception(12.5, -40.1, 300.0, 7.25)
		b := Perception(12.5, -40.1, 300.0, 7.25)
		assert.Equal(t, a, b)
	})

	t.Run("SensitiveToEachAction", func(t *testing.T) {
		base := Perception(10, 20, 30, 40)
		assert.NotEqual(t, base, Perception(11, 20, 30, 40))
		assert.NotEqual(t, base, Perception(10, 21, 30, 40))
		assert.NotEqual(t, base, Perception(10, 20, 31, 40))
		assert.NotEqual(t, base, Perception(10, 20, 30, 41))
	})
}
