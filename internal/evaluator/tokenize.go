// Package evaluator scores a target's output against a test case's
// reference using one of several scoring strategies, or an ensemble of
// them, and is the only place the engine talks to a teacher model for
// judging (spec §4.4).
package evaluator

import (
	"strings"
	"unicode"
)

// tokenize splits s into a lowercased token set: runs of ASCII-alphanumeric,
// any other alphabetic rune, or CJK ideographs (U+4E00-U+9FFF) form one
// token; any other rune (including whitespace) flushes the current token.
func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out[cur.String()] = struct{}{}
			cur.Reset()
		}
	}
	for _, r := range s {
		isCJK := r >= 0x4E00 && r <= 0x9FFF
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			cur.WriteRune(toLowerASCII(r))
		case isCJK:
			cur.WriteRune(r)
		case isAlpha(r):
			for _, lr := range strings.ToLower(string(r)) {
				cur.WriteRune(lr)
			}
		default:
			flush()
		}
	}
	flush()
	return out
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func isAlpha(r rune) bool {
	return unicode.IsLetter(r)
}

// jaccardSimilarity computes the Jaccard index of two token sets: 1.0 if
// both are empty, 0.0 if exactly one is empty, else |intersection|/|union|.
func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union <= 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// looksLikeMarkdown is a cheap structural heuristic: a fenced code block
// anywhere, or a heading/list/blockquote/ordered-list marker in the first 20
// lines, or any inline bold/italic/link syntax.
func looksLikeMarkdown(s string) bool {
	t := strings.TrimSpace(s)
	if strings.Contains(t, "```") {
		return true
	}
	lines := strings.Split(t, "\n")
	for i, line := range lines {
		if i >= 20 {
			break
		}
		l := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(l, "#"),
			strings.HasPrefix(l, "- "),
			strings.HasPrefix(l, "* "),
			strings.HasPrefix(l, "> "),
			strings.HasPrefix(l, "1. "):
			return true
		}
	}
	return strings.Contains(t, "**") || strings.Contains(t, "_") || strings.Contains(t, "](")
}
