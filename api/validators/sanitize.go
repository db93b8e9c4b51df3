package validators

import (
	"strings"
	"unicode"
)

// CleanText trims input, collapses internal whitespace runs to one space,
// drops control characters and caps the result at maxRunes (0 means no cap).
func CleanText(input string, maxRunes int) string {
	var b strings.Builder
	b.Grow(len(input))
	count := 0
	pendingSpace := false
	for _, r := range input {
		if unicode.IsSpace(r) {
			pendingSpace = count > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if pendingSpace {
			if maxRunes > 0 && count+1 >= maxRunes {
				break
			}
			b.WriteByte(' ')
			count++
			pendingSpace = false
		}
		if maxRunes > 0 && count >= maxRunes {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
