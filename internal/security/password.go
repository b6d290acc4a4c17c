package security

import "golang.org/x/crypto/bcrypt"

// PasswordHasher hashes and checks passwords with a fixed bcrypt cost
type PasswordHasher struct {
	cost      int
	dummyHash []byte
}

// NewPasswordHasher creates a hasher. The cost is clamped to bcrypt's valid range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	// A hash of the same cost lets Equalize take as long as a real comparison.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("familyledger-timing-equalizer"), cost)
	return &PasswordHasher{cost: cost, dummyHash: dummy}
}

// Hash returns the bcrypt hash of password
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check reports whether password matches hash. An empty hash never matches.
func (h *PasswordHasher) Check(password, hash string) bool {
	if hash == "" {
		h.Equalize(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Equalize performs a comparison against a throwaway hash so that lookups
// for unknown accounts cost the same as real ones.
func (h *PasswordHasher) Equalize(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// Cost returns the configured bcrypt cost
func (h *PasswordHasher) Cost() int {
	return h.cost
}
