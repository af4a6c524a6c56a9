package adapter

import "strings"

// TextLimit is the per-message size budget in runes. Telegram's hard cap is
// 4096; the margin leaves room for entities added by parse modes.
const TextLimit = 4000

// SplitText splits s into chunks of at most limit runes.
// It prefers newline boundaries and, for HTML parse mode, avoids cutting inside a tag.
func SplitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			if cut := newlineCut(rs, start, end, limit); cut != -1 {
				end = cut
			}
		}
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			end = tagSafeEnd(rs, start, end)
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// newlineCut finds the last newline in the window that still leaves a chunk of
// at least a third of limit; -1 if none.
func newlineCut(rs []rune, start, end, limit int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= limit/3 {
			return i + 1
		}
	}
	return -1
}

func tagSafeEnd(rs []rune, start, end int) int {
	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > start+1 {
		return lastOpen
	}
	return end
}
