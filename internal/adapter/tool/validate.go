package tool

import (
	"fmt"
	"regexp"
	"strings"
)

var tickerRe = regexp.MustCompile(`^[A-Za-z0-9.\-^=]{1,15}$`)

// NormalizeTicker trims and upper-cases a ticker symbol and checks its shape.
func NormalizeTicker(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !tickerRe.MatchString(s) {
		return "", fmt.Errorf("invalid ticker %q: use 1-15 letters, digits or . - ^ =", s)
	}
	return strings.ToUpper(s), nil
}

// RequireField returns an error if the string value is blank.
func RequireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("'%s' is required", name)
	}
	return nil
}

// ValidateEnum checks that value is one of the allowed values.
// An empty value is allowed (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (want: %s)", name, value, strings.Join(allowed, ", "))
}

// ValidateRange checks that value is within [min, max].
func ValidateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be %d-%d", name, min, max)
	}
	return nil
}
