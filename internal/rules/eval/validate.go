package eval

import (
	"fmt"
	"strings"
	"unicode"
)

var allowedFuncs = map[string]bool{
	"abs":   true,
	"ceil":  true,
	"floor": true,
	"round": true,
	"min":   true,
	"max":   true,
	"tanh":  true,
	"exp":   true,
	"log":   true,
	"sqrt":  true,
	"pow":   true,
}

// Validate rejects anything beyond arithmetic over x, i and n: collection
// literals, strings, member access and calls outside the numeric whitelist.
func Validate(src string) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return fmt.Errorf("empty expression")
	}

	illegalChars := []rune{'{', '}', '[', ']', ';', '@', '#', '$', '\\', '"', '\'', '`'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(src, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	for i := 0; i < len(src); i++ {
		if src[i] != '.' {
			continue
		}
		if i+1 < len(src) && src[i+1] == '.' {
			return fmt.Errorf("range operator is not allowed")
		}
		next := i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))
		prev := i > 0 && unicode.IsDigit(rune(src[i-1]))
		if !next && !prev {
			return fmt.Errorf("dot access is not allowed")
		}
		if !prev && i > 0 && isIdentChar(src[i-1]) {
			return fmt.Errorf("dot access is not allowed")
		}
	}

	for i := 0; i < len(src); i++ {
		if src[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(src[j])) {
			j--
		}
		if j < 0 || !isIdentChar(src[j]) {
			continue
		}
		k := j
		for k >= 0 && isIdentChar(src[k]) {
			k--
		}
		ident := src[k+1 : j+1]
		if ident == "" || unicode.IsDigit(rune(ident[0])) {
			continue
		}
		if !allowedFuncs[ident] {
			return fmt.Errorf("function %q is not allowed", ident)
		}
	}

	return nil
}

func isIdentChar(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
