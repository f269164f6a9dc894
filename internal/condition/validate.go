package condition

import (
	"fmt"
	"strings"
	"unicode"
)

var allowedFuncs = map[string]struct{}{
	"lower": {},
	"upper": {},
	"trim":  {},
	"len":   {},
	"int":   {},
	"float": {},
}

// Validate rejects expressions that reach beyond comparing a single value.
func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}

	illegalChars := []rune{'{', '}', ';', '@', '#', '$', '\\', '`'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(cond, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	for i := 0; i < len(cond); i++ {
		if cond[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(cond[j])) {
			j--
		}
		if j < 0 || !(unicode.IsLetter(rune(cond[j])) || unicode.IsDigit(rune(cond[j])) || cond[j] == '_') {
			continue
		}
		k := j
		for k >= 0 && (unicode.IsLetter(rune(cond[k])) || unicode.IsDigit(rune(cond[k])) || cond[k] == '_') {
			k--
		}
		ident := cond[k+1 : j+1]
		if isKeyword(ident) {
			continue
		}
		if _, ok := allowedFuncs[ident]; !ok {
			return fmt.Errorf("function %q is not allowed", ident)
		}
	}

	return nil
}

func isKeyword(ident string) bool {
	switch ident {
	case "and", "or", "not", "in", "matches", "contains", "startsWith", "endsWith":
		return true
	}
	return false
}
