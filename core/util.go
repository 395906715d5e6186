package core

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	NowFunc = time.Now // mockable

	slugInvalidRegex = regexp.MustCompile(`[^a-z0-9]+`)
)

// Now returns the current UTC time.
func Now() time.Time {
	return NowFunc().UTC()
}

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CleanStrings cleans every string in `ss`, dropping empty ones and duplicates.
func CleanStrings(ss []string, lower ...bool) []string {
	if ss == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ss))
	cleaned := make([]string, 0, len(ss))
	for _, s := range ss {
		s = CleanString(s, lower...)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		cleaned = append(cleaned, s)
	}
	return cleaned
}

// Slugify returns a lower-cased, dash separated, ascii version of `s`.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII:
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	slug := strings.Trim(slugInvalidRegex.ReplaceAllString(b.String(), "-"), "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}

// StringInSlice reports whether `s` is in `slice`.
func StringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
