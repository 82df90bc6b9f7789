// Package version implements the fixed-width, lexicographically
// sortable version tokens used as optimistic-concurrency tokens for
// automata.
//
// A Version is Width characters over Alphabet (digits, then upper
// case, then lower case letters).  Because the alphabet is in ASCII
// order and every token has the same width, numeric order, string
// order, and token order all agree.
package version

import (
	"errors"
	"strconv"
)

const (
	// Alphabet is the ordered set of digits.
	Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base is len(Alphabet).
	Base = 62

	// Width is the fixed length of every token.
	Width = 6

	// Max is the largest number a token can represent (62^6 - 1).
	Max uint64 = 56800235583
)

var (
	// Overflow occurs when a result would exceed Max.
	Overflow = errors.New("version overflow")

	// Underflow occurs when a result would be less than zero.
	Underflow = errors.New("version underflow")
)

// FormatError occurs when a token has the wrong length or contains a
// character outside Alphabet.
type FormatError struct {
	Token string
	// Pos is the offending character's index or -1 for a bad
	// length.
	Pos int
}

func (e *FormatError) Error() string {
	if e.Pos < 0 {
		return "bad version \"" + e.Token + "\": length " + strconv.Itoa(len(e.Token)) +
			" != " + strconv.Itoa(Width)
	}
	return "bad version \"" + e.Token + "\": illegal character at " + strconv.Itoa(e.Pos)
}

// Version is a fixed-width token.
type Version string

// Zero is the minimum token.
func Zero() Version {
	return "000000"
}

// MaxVersion is the maximum token.
func MaxVersion() Version {
	v, _ := FromNumber(Max)
	return v
}

func digit(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'A' <= c && c <= 'Z':
		return int(c-'A') + 10
	case 'a' <= c && c <= 'z':
		return int(c-'a') + 36
	}
	return -1
}

// Check returns a *FormatError if s isn't a well-formed token.
func Check(s string) error {
	if len(s) != Width {
		return &FormatError{Token: s, Pos: -1}
	}
	for i := 0; i < len(s); i++ {
		if digit(s[i]) < 0 {
			return &FormatError{Token: s, Pos: i}
		}
	}
	return nil
}

// IsValid reports whether s is a well-formed token.
func IsValid(s string) bool {
	return Check(s) == nil
}

// Parse checks s and returns it as a Version.
func Parse(s string) (Version, error) {
	if err := Check(s); err != nil {
		return "", err
	}
	return Version(s), nil
}

// ToNumber converts the token to its integer value.
func ToNumber(v Version) (uint64, error) {
	if err := Check(string(v)); err != nil {
		return 0, err
	}
	var n uint64
	for i := 0; i < Width; i++ {
		n = n*Base + uint64(digit(v[i]))
	}
	return n, nil
}

// FromNumber converts n to a token.  Fails with Overflow if n > Max.
func FromNumber(n uint64) (Version, error) {
	if Max < n {
		return "", Overflow
	}
	var bs [Width]byte
	for i := Width - 1; 0 <= i; i-- {
		bs[i] = Alphabet[n%Base]
		n /= Base
	}
	return Version(bs[:]), nil
}

// Add offsets v by d, which may be negative.
func Add(v Version, d int64) (Version, error) {
	n, err := ToNumber(v)
	if err != nil {
		return "", err
	}
	if d < 0 {
		m := uint64(-(d + 1)) + 1 // |d| without overflowing on MinInt64
		if n < m {
			return "", Underflow
		}
		return FromNumber(n - m)
	}
	if Max-n < uint64(d) {
		return "", Overflow
	}
	return FromNumber(n + uint64(d))
}

// Increment returns the successor of v.
func Increment(v Version) (Version, error) {
	return Add(v, 1)
}

// Decrement returns the predecessor of v.
func Decrement(v Version) (Version, error) {
	return Add(v, -1)
}

// Compare returns -1, 0, or 1.
//
// Both tokens are checked, but otherwise this is a plain string
// comparison.
func Compare(a, b Version) (int, error) {
	if err := Check(string(a)); err != nil {
		return 0, err
	}
	if err := Check(string(b)); err != nil {
		return 0, err
	}
	switch {
	case a < b:
		return -1, nil
	case b < a:
		return 1, nil
	}
	return 0, nil
}

func (v Version) String() string {
	return string(v)
}
