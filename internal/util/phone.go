package util

import (
	"regexp"
	"strings"
)

var nonDigits = regexp.MustCompile(`\D+`)

// NormalizePhone maps a provider phone identifier to E.164: separators and a
// leading "+" are dropped, leading zeros (the international "00" prefix) are
// stripped, and "+" is prepended. Country codes never start with 0, so the
// result is the same for every formatting of the same number.
func NormalizePhone(raw string) string {
	s := nonDigits.ReplaceAllString(raw, "")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return ""
	}

	return "+" + s
}
