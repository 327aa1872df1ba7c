package domain

import (
	"crypto/rand"
	"regexp"
)

// Crockford base32 without I, L, O and U.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var codePattern = regexp.MustCompile(`^SR-[0-9A-HJKMNP-TV-Z]{4}-[0-9A-HJKMNP-TV-Z]{4}$`)

// NewCaseCode returns a random public code such as SR-7QK2-M9XD.
func NewCaseCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	out := []byte("SR-XXXX-XXXX")
	pos := []int{3, 4, 5, 6, 8, 9, 10, 11}
	for i, b := range buf {
		out[pos[i]] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// ValidCaseCode reports whether code has the public code format.
func ValidCaseCode(code string) bool {
	return codePattern.MatchString(code)
}
