// Package order extracts and validates order identifiers from scanner text.
//
// OCR misreads frequently produce 14-character runs made only of digits from
// unrelated barcodes, so a matched run must contain at least one letter.
package order

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/banshee-data/packcam/internal/security"
)

// Length is the number of characters in a label-extracted identifier.
const Length = 14

// ID is a validated, uppercase order identifier.
type ID string

func (id ID) String() string { return string(id) }

// Result classifies the outcome of Extract.
type Result int

const (
	// NoMatch means the line did not contain the label phrase and code.
	NoMatch Result = iota
	// Accepted means a valid identifier was extracted.
	Accepted
	// RejectedDigitsOnly means the code matched but was entirely digits.
	RejectedDigitsOnly
)

func (r Result) String() string {
	switch r {
	case NoMatch:
		return "no_match"
	case Accepted:
		return "accepted"
	case RejectedDigitsOnly:
		return "digits_only"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ErrInvalid is returned by Normalize for identifiers that cannot name an
// evidence folder.
var ErrInvalid = errors.New("invalid order identifier")

var labelPattern = regexp.MustCompile(`(?i)Shopee\s*Order\s*No\.?\s*([A-Z0-9]{14})`)

// Extract searches one line of scanner text for the order label followed by a
// 14-character alphanumeric code. The returned ID is only meaningful when the
// result is Accepted; for RejectedDigitsOnly it carries the rejected code so
// the caller can log it.
func Extract(line string) (ID, Result) {
	m := labelPattern.FindStringSubmatch(line)
	if m == nil {
		return "", NoMatch
	}
	code := strings.ToUpper(m[1])
	if isDigits(code) {
		return ID(code), RejectedDigitsOnly
	}
	return ID(code), Accepted
}

// Normalize accepts an identifier produced by a trusted device, which skips
// label extraction. It trims and uppercases the value and rejects anything
// that would not survive as a folder name unchanged.
func Normalize(raw string) (ID, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}
	if security.SanitizeFilename(s) != s || strings.Contains(s, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return ID(s), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
