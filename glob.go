/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Glob-style pattern matching
 */

package ippclient

import "strings"

// GlobMatch matches printer URI against glob-style pattern,
// used to select per-printer quirks, i.e. "ipp://10.0.0.*".
//
// Pattern syntax:
//
//	*       - matches any sequence of characters
//	?       - matches exactly one character
//	[a-z0]  - matches one character of the class
//	[!a-z]  - matches one character not in the class
//	\C      - matches character C
//	C       - matches character C
//
// It returns the "matching weight", which is the count of
// characters, matched by non-wildcard pattern elements (literals
// and classes). The higher the weight, the more specific the
// pattern is. If there is no match, it returns -1.
func GlobMatch(uri, pattern string) int {
	var s, p, weight int

	// Pattern position after the last '*', for backtracking
	star, starS, starWeight := -1, 0, 0

	for s < len(uri) {
		if p < len(pattern) {
			tok := globNext(pattern[p:])
			switch {
			case tok.kind == '*':
				p += tok.size
				star, starS, starWeight = p, s, weight
				continue

			case tok.match(uri[s]):
				p += tok.size
				s++
				if tok.kind != '?' {
					weight++
				}
				continue
			}
		}

		// Mismatch: the last '*' consumes one more character
		if star < 0 {
			return -1
		}

		starS++
		s, p, weight = starS, star, starWeight
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}

	if p < len(pattern) {
		return -1
	}

	return weight
}

// globToken is the single element of the glob pattern
type globToken struct {
	kind  byte   // '*', '?', '[' or 0 for literal
	chars string // Literal character or class body
	neg   bool   // Negated class
	size  int    // Token size within the pattern
}

// globNext returns the next token of the non-empty pattern.
// Unterminated class and trailing backslash are literals
func globNext(pattern string) globToken {
	switch c := pattern[0]; c {
	case '*', '?':
		return globToken{kind: c, size: 1}

	case '\\':
		if len(pattern) > 1 {
			return globToken{chars: pattern[1:2], size: 2}
		}

	case '[':
		end := strings.IndexByte(pattern[1:], ']')
		if end > 0 {
			tok := globToken{kind: '[', chars: pattern[1 : 1+end], size: end + 2}
			if len(tok.chars) > 1 && tok.chars[0] == '!' {
				tok.chars, tok.neg = tok.chars[1:], true
			}
			return tok
		}
	}

	return globToken{chars: pattern[:1], size: 1}
}

// match tells if character matches the token
func (tok globToken) match(c byte) bool {
	switch tok.kind {
	case '?':
		return true
	case '[':
		return tok.matchClass(c) != tok.neg
	}

	return c == tok.chars[0]
}

// matchClass tells if character belongs to the class
func (tok globToken) matchClass(c byte) bool {
	chars := tok.chars
	for len(chars) > 0 {
		if len(chars) > 2 && chars[1] == '-' {
			if chars[0] <= c && c <= chars[2] {
				return true
			}
			chars = chars[3:]
			continue
		}

		if chars[0] == c {
			return true
		}
		chars = chars[1:]
	}

	return false
}
