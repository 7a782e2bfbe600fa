package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  string
	}{
		{"typical address", "citizen@example.org", "ci***@example.org"},
		{"short local part", "ab@example.org", "a***@example.org"},
		{"single character", "a@example.org", "a***@example.org"},
		{"no at sign", "not-an-email", "***"},
		{"empty", "", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskEmail(tt.email))
		})
	}
}

func TestMaskDocumentNumber(t *testing.T) {
	assert.Equal(t, "XXXX-XXXX-4321", MaskDocumentNumber("199203154321"))
	assert.Equal(t, "XXXX-XXXX-234F", MaskDocumentNumber("ABCDE1234F"))
	assert.Equal(t, "XXXX", MaskDocumentNumber("123"))
	assert.Equal(t, "XXXX", MaskDocumentNumber(""))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "XXXXXX3210", MaskPhone("+919876543210"))
	assert.Equal(t, "XXXXXX", MaskPhone("12"))
}

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want string
	}{
		{"ipv4 drops last octet", "203.0.113.77", "203.0.113.0"},
		{"ipv6 keeps two groups", "2001:db8:85a3:8d3:1319:8a2e:370:7348", "2001:db8::"},
		{"empty stays empty", "", ""},
		{"short value passes through", "local", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.ip))
		})
	}
}
