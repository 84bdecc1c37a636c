package adapter

import "strings"

// maxMessageRunes stays under Telegram's 4096 limit with room for entities.
const maxMessageRunes = 4000

// chunkText breaks s into messages of at most limit runes. Whole lines are
// packed together where possible; a line longer than limit is cut, and in
// HTML mode the cut moves back before an unfinished tag.
func chunkText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	if len([]rune(s)) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		out  []string
		cur  []rune
		have bool
	)
	flush := func() {
		if have {
			out = append(out, string(cur))
		}
		cur, have = cur[:0:0], false
	}
	for _, line := range strings.Split(s, "\n") {
		lr := []rune(line)
		if have && len(cur)+1+len(lr) <= limit {
			cur = append(append(cur, '\n'), lr...)
			continue
		}
		flush()
		for len(lr) > limit {
			n := cutAt(lr, limit, html)
			out = append(out, string(lr[:n]))
			lr = lr[n:]
		}
		cur, have = lr, true
	}
	flush()
	return out
}

func cutAt(r []rune, limit int, html bool) int {
	if !html {
		return limit
	}
	for i := limit - 1; i > 0; i-- {
		switch r[i] {
		case '>':
			return limit
		case '<':
			return i
		}
	}
	return limit
}
