// Package render turns model markdown into Telegram-safe HTML and splits it
// into messages.
package render

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	codeBlockRe  = regexp.MustCompile("(?s)```\\w*\\n?(.*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	boldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	headerRe     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
)

// ToSafeMarkup converts markdown to HTML using only <b>, <i>, <code> and
// <pre>, with every tag balanced. Code spans and blocks are copied verbatim
// (escaped) and never interpreted as markdown.
func ToSafeMarkup(raw string) string {
	return Balance(markdownToHTML(raw))
}

func markdownToHTML(text string) string {
	nonce := uuid.NewString()
	var blocks, spans []string
	placeholder := func(kind string, i int) string {
		return "\x00" + nonce + kind + strconv.Itoa(i) + "\x00"
	}

	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		blocks = append(blocks, codeBlockRe.FindStringSubmatch(m)[1])
		return placeholder("B", len(blocks)-1)
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		spans = append(spans, inlineCodeRe.FindStringSubmatch(m)[1])
		return placeholder("I", len(spans)-1)
	})

	text = html.EscapeString(text)

	text = boldRe.ReplaceAllString(text, "<b>${1}</b>")
	text = italicize(text)
	text = headerRe.ReplaceAllString(text, "<b>${1}</b>")

	for i, block := range blocks {
		text = strings.Replace(text, placeholder("B", i), "<pre>"+html.EscapeString(block)+"</pre>", 1)
	}
	for i, span := range spans {
		text = strings.Replace(text, placeholder("I", i), "<code>"+html.EscapeString(span)+"</code>", 1)
	}
	return text
}

// italicize wraps *x* in <i> when neither star touches a word character on
// its outer side. x is non-empty and contains no star.
func italicize(text string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(text); {
		if text[i] != '*' || wordBefore(text, i) {
			i++
			continue
		}
		j := strings.IndexByte(text[i+1:], '*')
		if j <= 0 {
			i++
			continue
		}
		end := i + 1 + j
		if wordAfter(text, end+1) {
			i++
			continue
		}
		b.WriteString(text[last:i])
		b.WriteString("<i>")
		b.WriteString(text[i+1 : end])
		b.WriteString("</i>")
		last = end + 1
		i = last
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

func wordBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isWord(r)
}

func wordAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isWord(r)
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
