// Package password hashes and verifies login credentials.
//
// One hashing strategy is selected by configuration at startup (bcrypt with a
// configured cost). NeedsRehash is a pure check so hashes created under an
// older cost are upgraded on the next successful login, with no runtime
// branching on library availability.
package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "civis/pkg/domain-errors"
)

// Hasher hashes passwords with a fixed bcrypt cost.
type Hasher struct {
	cost int
}

// NewHasher builds a Hasher. Costs outside bcrypt's supported range fall back
// to the library default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the algorithm-tagged hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "password is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not hash password")
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A comparison failure other
// than a plain mismatch is surfaced as an internal error.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, dErrors.Wrap(err, dErrors.CodeInternal, "could not verify password")
}

// NeedsRehash reports whether hash was created under a weaker cost than the
// hasher is configured with. Unparseable hashes report true so legacy entries
// are replaced on the next successful login.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

var commonPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "123456": {}, "12345678": {},
	"qwerty": {}, "admin123": {}, "welcome": {}, "login123": {},
	"test1234": {}, "p@ssword": {}, "letmein1": {}, "password!": {},
	"qwerty123": {}, "admin": {},
}

var weakSequences = []string{"12345", "abcde", "asdfg", "qwerty"}

// ValidateStrength checks a candidate password against the registration
// policy. Returned problems are safe to show to the user.
func ValidateStrength(password string) []string {
	var problems []string

	if len(password) < 8 {
		problems = append(problems, "password must be at least 8 characters")
	}
	if len(password) > 128 {
		problems = append(problems, "password must not exceed 128 characters")
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(`!@#$%^&*(),.?":{}|<>`, r):
			special = true
		}
	}
	if !lower {
		problems = append(problems, "password must contain a lowercase letter")
	}
	if !upper {
		problems = append(problems, "password must contain an uppercase letter")
	}
	if !digit {
		problems = append(problems, "password must contain a digit")
	}
	if !special {
		problems = append(problems, "password must contain a special character")
	}

	normalized := strings.ToLower(password)
	if _, ok := commonPasswords[normalized]; ok {
		problems = append(problems, "password is too common")
	}
	for _, seq := range weakSequences {
		if strings.Contains(normalized, seq) {
			problems = append(problems, "password contains a simple sequence")
			break
		}
	}

	return problems
}
