package identity

import "strings"

// legacyPrefixes maps the providers of the retired single-identity scheme to the
// identity URL prefix that scheme stored. These strings are lookup keys into
// existing rows and must never change.
var legacyPrefixes = map[string]string{
	"facebook": "http://www.facebook.com/profile.php?id=",
	"twitter":  "http://twitter.com/account/profile?user_id=",
	"google":   "https://www.google.com/profiles/",
}

// LegacyKey derives the legacy identity key for an external login. ok is false for
// providers added after the legacy scheme was retired.
func LegacyKey(provider, externalID string) (key string, ok bool) {
	if externalID == "" {
		return "", false
	}
	prefix, ok := legacyPrefixes[strings.ToLower(provider)]
	if !ok {
		return "", false
	}
	return prefix + externalID, true
}
