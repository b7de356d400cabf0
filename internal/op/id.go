package op

import "regexp"

// idPattern matches "{prefix}-{suffix}" where prefix is 2+ lowercase
// alphanumeric characters containing at least one letter, per §3.3.
// The suffix is opaque: any non-empty run of characters after the first
// hyphen that follows a valid prefix.
var idPattern = regexp.MustCompile(`^[a-z0-9]{2,}-.+$`)

var hasLetter = regexp.MustCompile(`[a-z]`)

// ValidID reports whether id satisfies the "{prefix}-{suffix}" format
// required of every issue id.
func ValidID(id string) bool {
	if !idPattern.MatchString(id) {
		return false
	}
	prefix := Prefix(id)
	return hasLetter.MatchString(prefix)
}

// Prefix extracts the namespace token preceding the first hyphen. It
// does not validate the id; callers that need validation should call
// ValidID first.
func Prefix(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return id[:i]
		}
	}
	return id
}
