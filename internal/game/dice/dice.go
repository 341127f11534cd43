// Package dice provides the randomness abstraction and the supported die
// set for table rolls.
package dice

import (
	"crypto/rand"
	"math/big"
)

// SupportedDice lists the die side counts a table accepts. A roll request
// for any other side count is dropped without a result.
var SupportedDice = []int{4, 6, 8, 10, 12, 20, 100}

// IsSupported reports whether sides is a playable die.
func IsSupported(sides int) bool {
	for _, s := range SupportedDice {
		if s == sides {
			return true
		}
	}
	return false
}

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// RollDie rolls a single die and returns a result in [1, sides].
//
// Precondition: sides must be a supported die; src must be non-nil.
func RollDie(sides int, src Source) int {
	return src.Intn(sides) + 1
}

// cryptoSource implements Source using crypto/rand.
//
// Invariant: values are uniformly distributed in [0, n) for any n > 0.
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
//
// Postcondition: Every value returned by Intn is in [0, n).
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Intn returns a cryptographically secure random int in [0, n).
//
// Precondition: n > 0. Panics with "dice: Intn called with n <= 0" if n <= 0.
// Panics with "dice: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Intn(n int) int {
	if n <= 0 {
		panic("dice: Intn called with n <= 0")
	}
	val, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("dice: crypto/rand failure: " + err.Error())
	}
	return int(val.Int64())
}
