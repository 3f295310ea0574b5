package criteria

import (
	"errors"
	"strings"
)

var errBadPattern = errors.New("malformed pattern")

// hasMeta reports whether p uses glob syntax.
func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[\`)
}

// validateGlob checks bracket and escape syntax up front so a bad pattern is
// a load-time error.
func validateGlob(p string) error {
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '\\':
			if i+1 >= len(p) {
				return errBadPattern
			}
			i++
		case '[':
			j := i + 1
			if j < len(p) && (p[j] == '!' || p[j] == '^') {
				j++
			}
			if j < len(p) && p[j] == ']' {
				j++
			}
			for j < len(p) && p[j] != ']' {
				j++
			}
			if j >= len(p) {
				return errBadPattern
			}
			i = j
		}
	}
	return nil
}

// globMatch matches s against p. '*' matches any run of characters
// (including '/'), '?' one character, and [...] a character class with
// ranges and ! or ^ negation.
func globMatch(p, s string) bool {
	px, sx := 0, 0
	starP, starS := -1, 0
	for sx < len(s) {
		if px < len(p) {
			switch p[px] {
			case '*':
				starP, starS = px, sx
				px++
				continue
			case '?':
				px++
				sx++
				continue
			case '[':
				if ok, next := matchClass(p, px, s[sx]); ok {
					px = next
					sx++
					continue
				}
			case '\\':
				if px+1 < len(p) && p[px+1] == s[sx] {
					px += 2
					sx++
					continue
				}
			default:
				if p[px] == s[sx] {
					px++
					sx++
					continue
				}
			}
		}
		if starP < 0 {
			return false
		}
		starS++
		px, sx = starP+1, starS
	}
	for px < len(p) && p[px] == '*' {
		px++
	}
	return px == len(p)
}

// matchClass matches c against the class starting at p[start] == '['.
// It returns whether c matched and the index just after the closing ']'.
func matchClass(p string, start int, c byte) (bool, int) {
	i := start + 1
	negate := false
	if i < len(p) && (p[i] == '!' || p[i] == '^') {
		negate = true
		i++
	}
	matched := false
	first := true
	for i < len(p) && (first || p[i] != ']') {
		first = false
		lo := p[i]
		hi := lo
		if i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']' {
			hi = p[i+2]
			i += 2
		}
		if lo <= c && c <= hi {
			matched = true
		}
		i++
	}
	if i >= len(p) {
		return false, start
	}
	return matched != negate, i + 1
}
