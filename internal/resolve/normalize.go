// Package resolve matches free-text ingredient names against reference foods.
package resolve

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// descriptorPrefixes are leading words that describe state rather than the
// food itself. Each carries its trailing separator.
var descriptorPrefixes = []string{
	"fresh ", "dried ", "raw ", "cooked ", "frozen ", "canned ", "organic ",
}

// preparationSuffixes are trailing words describing how the food was cut.
var preparationSuffixes = []string{
	" whole", " chopped", " diced", " sliced", " minced", " grated", " ground",
}

// separatorReplacer turns list punctuation into whitespace so that
// "tomato, diced" exposes its trailing preparation word.
var separatorReplacer = strings.NewReplacer(",", " ", ";", " ")

// Normalize canonicalizes an ingredient or food name for comparison by:
//  1. Folding to Unicode NFKC and lowercasing
//  2. Treating commas and semicolons as whitespace
//  3. Collapsing whitespace runs and trimming
//  4. Stripping leading descriptor words (fresh, dried, raw, ...) and
//     trailing preparation words (chopped, diced, ground, ...)
//
// Affixes are stripped until none applies, so Normalize is idempotent.
func Normalize(name string) string {
	name = strings.ToLower(norm.NFKC.String(name))
	name = separatorReplacer.Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}

	for {
		stripped := stripPrefix(name)
		stripped = stripSuffix(stripped)
		if stripped == name {
			return name
		}
		name = stripped
	}
}

// stripPrefix removes one descriptor word from the start of name. The
// descriptor must be followed by another word.
func stripPrefix(name string) string {
	for _, p := range descriptorPrefixes {
		if len(name) > len(p) && strings.HasPrefix(name, p) {
			return name[len(p):]
		}
	}
	return name
}

// stripSuffix removes one preparation word from the end of name.
func stripSuffix(name string) string {
	for _, s := range preparationSuffixes {
		if len(name) > len(s) && strings.HasSuffix(name, s) {
			return name[:len(name)-len(s)]
		}
	}
	return name
}

// NormalizeAll normalizes every name, preserving order.
func NormalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}
	return out
}
