// Package namespace produces and validates the per-deployment routing keys
// that name a site's objects in the content store and form its public
// subdomain.
package namespace

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	alphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength = 6
	maxLength    = 63
)

var validPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Generate returns a routing key combining the slugified project name with a
// short random suffix. Keys are assigned once per deployment and never
// reused, so collision probability only needs to be negligible (36^6 per
// slug).
func Generate(projectName string) (string, error) {
	suffix := make([]byte, suffixLength)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate namespace suffix: %w", err)
	}
	for i, b := range suffix {
		suffix[i] = alphabet[int(b)%len(alphabet)]
	}

	slug := Slugify(projectName)
	if slug == "" {
		slug = "site"
	}
	// Leave room for the suffix and its separator inside the DNS label limit.
	if max := maxLength - suffixLength - 1; len(slug) > max {
		slug = strings.Trim(slug[:max], "-")
	}
	return slug + "-" + string(suffix), nil
}

// Slugify lowercases a project name and collapses everything outside
// [a-z0-9] into single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Valid reports whether a key is a well-formed routing key: 1-63 characters,
// alphanumeric with interior hyphens, no leading or trailing hyphen.
func Valid(key string) bool {
	if len(key) == 0 || len(key) > maxLength {
		return false
	}
	return validPattern.MatchString(strings.ToLower(key))
}
