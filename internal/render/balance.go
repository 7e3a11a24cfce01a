package render

import (
	"regexp"
	"strings"
)

var tagRe = regexp.MustCompile(`<(/?)(b|i|code|pre)>`)

// Balance makes the <b>, <i>, <code> and <pre> tags of text well nested.
// A closing tag that does not match the innermost open tag is dropped, and
// tags still open at the end are closed innermost first.
func Balance(text string) string {
	var (
		b     strings.Builder
		stack []string
		last  int
	)
	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		closing := m[3] > m[2]
		tag := text[m[4]:m[5]]
		if !closing {
			stack = append(stack, tag)
			continue
		}
		if len(stack) > 0 && stack[len(stack)-1] == tag {
			stack = stack[:len(stack)-1]
			continue
		}
		b.WriteString(text[last:m[0]])
		last = m[1]
	}
	if last == 0 && len(stack) == 0 {
		return text
	}
	b.WriteString(text[last:])
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString("</" + stack[i] + ">")
	}
	return b.String()
}
