// Package textutil derives account names from provider-supplied profile data.
package textutil

import (
	"html"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength bounds generated usernames, suffix included
const MaxNameLength = 32

const fallbackName = "user"

var strictPolicy = bluemonday.StrictPolicy()

// CleanDisplayName strips markup and collapses whitespace in a provider display name
func CleanDisplayName(name string) string {
	cleaned := html.UnescapeString(strictPolicy.Sanitize(name))
	return strings.Join(strings.Fields(cleaned), " ")
}

// BaseUsername turns a display name into a lowercase handle. Names with nothing
// usable fall back to the email local part, then to "user".
func BaseUsername(displayName, email string) string {
	for _, candidate := range []string{CleanDisplayName(displayName), emailLocalPart(email)} {
		if s := truncate(slug.Make(candidate), MaxNameLength); s != "" {
			return s
		}
	}
	return fallbackName
}

// Past maxSequential numeric suffixes UniqueUsername switches to random ones of
// randomDigits digits, so a crowded base name costs a bounded number of checks.
const (
	maxSequential = 9
	randomDigits  = 4
	randomTries   = 5
)

// UsernamePrefix is shared by every candidate UniqueUsername can derive from base,
// so a store can load all names that might collide with one prefix query.
func UsernamePrefix(base string) string {
	return truncate(base, MaxNameLength-randomDigits)
}

// UniqueUsername returns base, or base with the smallest numeric suffix up to 9 for
// which taken reports false, then a random four-digit suffix. If every try is taken
// the last random candidate is returned and the store's unique constraint decides.
func UniqueUsername(base string, taken func(string) (bool, error)) (string, error) {
	candidate := base
	for n := 1; n <= maxSequential+randomTries; n++ {
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		suffix := strconv.Itoa(n)
		if n > maxSequential {
			suffix = strconv.Itoa(1000 + rand.IntN(9000))
		}
		candidate = withSuffix(base, suffix)
	}
	return candidate, nil
}

func withSuffix(base, suffix string) string {
	return strings.TrimRight(truncate(base, MaxNameLength-len(suffix)), "-") + suffix
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], "-")
}
