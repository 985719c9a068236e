// Package tokenizer splits text into overlapping fixed-length character windows.
// Input is lower-cased before windowing; no other normalization is applied
// unless FoldPunctuation is requested.
package tokenizer

import (
	"regexp"
	"strings"
)

// DefaultSize is the window length used when none is configured.
const DefaultSize = 3

// Letters and digits of any script are word characters; everything else folds.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Tokenizer produces n-grams of a fixed size.
type Tokenizer struct {
	N int
	// FoldPunctuation collapses every run of non-word characters into a
	// single space before windowing.
	FoldPunctuation bool
}

// New returns a Tokenizer for windows of n characters.
func New(n int) Tokenizer {
	if n < 1 {
		n = DefaultSize
	}
	return Tokenizer{N: n}
}

// Tokenize returns the n-grams of text in window order.
func (t Tokenizer) Tokenize(text string) []string {
	text = strings.ToLower(text)
	if t.FoldPunctuation {
		text = nonWord.ReplaceAllString(text, " ")
	}
	return window(text, t.size())
}

func (t Tokenizer) size() int {
	if t.N < 1 {
		return DefaultSize
	}
	return t.N
}

// Tokenize lower-cases text and returns its n-grams, left to right. Text
// shorter than n yields an empty slice.
func Tokenize(text string, n int) []string {
	return New(n).Tokenize(text)
}

func window(text string, n int) []string {
	runes := []rune(text)
	count := len(runes) - n + 1
	if count <= 0 {
		return []string{}
	}
	grams := make([]string, count)
	for i := 0; i < count; i++ {
		grams[i] = string(runes[i : i+n])
	}
	return grams
}

// Distinct returns the set of n-grams in grams.
func Distinct(grams []string) map[string]struct{} {
	set := make(map[string]struct{}, len(grams))
	for _, g := range grams {
		set[g] = struct{}{}
	}
	return set
}

// Equal reports whether two n-gram sequences are identical.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
