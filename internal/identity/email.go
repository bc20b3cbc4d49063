package identity

import (
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile("^[a-zA-Z0-9!#$%&'*+/=?^_`{|}~.-]+@[a-zA-Z0-9-]+(\\.[a-zA-Z0-9-]+)*$")

// ValidEmail reports whether s looks like local@domain.
func ValidEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	return emailRe.MatchString(s)
}
