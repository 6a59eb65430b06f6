package services

import "math/rand/v2"

// RandomSource supplies the placeholder estimates (recruitment potential,
// compliance scores). Tests substitute a fixed sequence.
type RandomSource interface {
	// IntN returns a value in [0, n). n must be positive.
	IntN(n int) int
}

type mathRandSource struct{}

// NewRandomSource returns a RandomSource backed by math/rand/v2.
func NewRandomSource() RandomSource {
	return mathRandSource{}
}

func (mathRandSource) IntN(n int) int {
	return rand.IntN(n)
}
