package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	hash, err := h.Hash("Correct-Horse1!")
	require.NoError(t, err)
	assert.NotEqual(t, "Correct-Horse1!", hash)

	ok, err := h.Verify("Correct-Horse1!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_NeedsRehash(t *testing.T) {
	low := NewHasher(bcrypt.MinCost)
	hash, err := low.Hash("Correct-Horse1!")
	require.NoError(t, err)

	assert.False(t, low.NeedsRehash(hash))
	assert.True(t, NewHasher(bcrypt.MinCost+2).NeedsRehash(hash))
	assert.True(t, low.NeedsRehash("not-a-bcrypt-hash"))
}

func TestNewHasher_CostOutOfRange(t *testing.T) {
	h := NewHasher(99)
	hash, err := h.Hash("Correct-Horse1!")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestValidateStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		problems int
	}{
		{"strong password", "Tr0ub4dor&Three", 0},
		{"too short", "Ab1!", 1},
		{"no uppercase", "trouble4me!", 1},
		{"no digit", "Troublemaker!", 1},
		{"no special", "Troublemaker7", 1},
		{"common password, no digit", "P@ssword", 2},
		{"simple sequence", "Abcdefgh7!", 1},
		{"everything wrong", "pass", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := ValidateStrength(tt.password)
			assert.Len(t, problems, tt.problems, "problems: %v", problems)
		})
	}
}
