// Package util provides text helpers shared by the activation gate and the conversation engine.
package util

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize composes text to NFC, lowercases it using Brazilian Portuguese casing rules and trims
// surrounding whitespace. Composition makes "não" typed as n, a, combining tilde, o match "não".
// It is applied to keywords, menu options and yes/no answers, never to free text the user types
// as data (names, requested services).
func Normalize(text string) string {
	// cases.Caser keeps internal state, so a fresh one is used per call.
	return strings.TrimSpace(cases.Lower(language.BrazilianPortuguese).String(norm.NFC.String(text)))
}

// FirstSubstring returns the first candidate that occurs anywhere in text, in candidate order.
func FirstSubstring(text string, candidates []string) (string, bool) {
	for _, c := range candidates {
		if c != "" && strings.Contains(text, c) {
			return c, true
		}
	}
	return "", false
}

// ContainsAny reports whether any candidate occurs in text.
func ContainsAny(text string, candidates ...string) bool {
	_, ok := FirstSubstring(text, candidates)
	return ok
}
