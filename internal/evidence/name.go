package evidence

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultDirName = "campanha"

// SanitizeName turns a campaign name into a directory-safe slug: diacritics
// are transliterated, only letters, digits, spaces, hyphens and underscores
// are kept, separators become single hyphens and the result is lower-cased.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(t, name)
	if err != nil {
		plain = name
	}

	var b strings.Builder
	for _, r := range plain {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}

	slug := b.String()
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return defaultDirName
	}
	return slug
}

// SafeAddress maps an email address to a filename fragment.
func SafeAddress(addr string) string {
	return strings.NewReplacer("@", "_at_", ".", "_").Replace(addr)
}
