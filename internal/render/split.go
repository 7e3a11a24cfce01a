package render

// DefaultChunkSize keeps messages well under Telegram's 4096 character limit.
const DefaultChunkSize = 3500

type piece struct {
	text string
	// sep is the boundary removed after text.
	sep string
}

// Split breaks text into chunks of at most maxLen characters, preferring a
// paragraph break, then a line break, then a sentence end, then a space, and
// cutting hard only when none exists. Boundaries are dropped, except that a
// sentence keeps its period.
func Split(text string, maxLen int) []string {
	pieces := split(text, maxLen)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

func split(text string, maxLen int) []piece {
	if maxLen <= 0 {
		maxLen = DefaultChunkSize
	}
	rest := []rune(text)
	if len(rest) <= maxLen {
		return []piece{{text: text}}
	}

	var pieces []piece
	for len(rest) > 0 {
		if len(rest) <= maxLen {
			pieces = append(pieces, piece{text: string(rest)})
			break
		}
		head, sep, n := cut(rest, maxLen)
		pieces = append(pieces, piece{text: string(rest[:head]), sep: sep})
		rest = rest[n:]
	}
	return pieces
}

// cut returns the chunk length, the dropped boundary and how many runes the
// chunk plus boundary consume.
func cut(r []rune, maxLen int) (int, string, int) {
	if i := lastIndex(r, maxLen, "\n\n"); i > 0 {
		return i, "\n\n", i + 2
	}
	if i := lastIndex(r, maxLen, "\n"); i > 0 {
		return i, "\n", i + 1
	}
	if i := lastIndex(r, maxLen, ". "); i > 0 {
		return i + 1, " ", i + 2
	}
	if i := lastIndex(r, maxLen, " "); i > 0 {
		return i, " ", i + 1
	}
	return maxLen, "", maxLen
}

// lastIndex finds the last occurrence of sep lying entirely within r[:end].
func lastIndex(r []rune, end int, sep string) int {
	s := []rune(sep)
	for i := end - len(s); i >= 0; i-- {
		match := true
		for j, c := range s {
			if r[i+j] != c {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
