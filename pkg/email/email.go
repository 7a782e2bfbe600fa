// Package email holds small helpers for working with email addresses.
package email

import (
	"strings"
	"unicode"
)

func isSeparator(r rune) bool {
	switch r {
	case '.', '_', '-', '+':
		return true
	}
	return false
}

// DeriveNameFromEmail guesses a first and last name from the local part of
// an address, e.g. "asha.verma@example.org" becomes ("Asha", "Verma").
// Registration uses it as a placeholder until verification supplies the
// registered name. When nothing usable is found both parts fall back to
// "User".
func DeriveNameFromEmail(address string) (first, last string) {
	local := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		local = address[:at]
	}

	words := strings.FieldsFunc(local, isSeparator)
	if len(words) == 0 {
		return "User", "User"
	}

	first = capitalize(words[0])
	last = "User"
	if len(words) > 1 {
		last = capitalize(words[len(words)-1])
	}
	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
