package playbook

import (
	"regexp"
	"strconv"
)

var placeholderRe = regexp.MustCompile(`\{(\d+)\}`)

// Placeholders returns the positional indexes referenced by a prompt message.
func Placeholders(message string) []int {
	var out []int
	for _, m := range placeholderRe.FindAllStringSubmatch(message, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, idx)
	}
	return out
}

// Render substitutes {N} with values[N]. Unknown indexes are left untouched.
func Render(message string, values []string) string {
	return placeholderRe.ReplaceAllStringFunc(message, func(m string) string {
		idx, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || idx >= len(values) {
			return m
		}
		return values[idx]
	})
}
