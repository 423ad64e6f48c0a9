package exercise

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	ParticipantIDLength = 6
	TrainerIDLength     = 8

	maxIDAttempts = 1000
)

// ErrNoFreeID is returned when no unused id could be found.
var ErrNoFreeID = fmt.Errorf("no free exercise id")

// generateID returns a random decimal id of the given length that taken
// rejects.
func generateID(digits int, taken func(string) bool) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	for i := 0; i < maxIDAttempts; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		id := fmt.Sprintf("%0*d", digits, n)
		if !taken(id) {
			return id, nil
		}
	}
	return "", ErrNoFreeID
}

// RoleForID returns the role granted by joining with id.
func RoleForID(id string) (roleTrainer bool, ok bool) {
	if !isDigits(id) {
		return false, false
	}
	switch len(id) {
	case ParticipantIDLength:
		return false, true
	case TrainerIDLength:
		return true, true
	}
	return false, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
