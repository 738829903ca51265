package telegram

import (
	"strings"
)

const (
	fence    = "```"
	minSplit = 16
)

// SplitMessage splits text into parts of at most maxLen runes. A part ends
// at a newline, else at a space, found in its second half. A code block cut
// by a split is closed at the end of the part and reopened in the next one.
func SplitMessage(text string, maxLen int) []string {
	if maxLen < minSplit {
		maxLen = minSplit
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}

	var parts []string
	reopen := false
	for len(runes) > 0 {
		prefix := ""
		if reopen {
			rest := string(runes)
			if strings.HasPrefix(rest, fence) {
				// the block closes right at the split
				runes = []rune(strings.TrimPrefix(strings.TrimPrefix(rest, fence), "\n"))
				reopen = false
				continue
			}
			prefix = fence + "\n"
		}
		budget := maxLen - len([]rune(prefix))

		if len(runes) <= budget {
			parts = append(parts, prefix+string(runes))
			break
		}

		// leave room for a closing fence
		cut := splitPoint(runes, budget-len(fence)-1)
		part := prefix + string(runes[:cut])
		runes = runes[cut:]

		reopen = strings.Count(part, fence)%2 == 1
		if reopen {
			part = strings.TrimRight(part, "\n") + "\n" + fence
		}
		parts = append(parts, part)
	}
	return parts
}

func splitPoint(runes []rune, limit int) int {
	chunk := string(runes[:limit])
	if i := strings.LastIndex(chunk, "\n"); i >= 0 {
		if n := len([]rune(chunk[:i])) + 1; n > limit/2 {
			return n
		}
	}
	if i := strings.LastIndex(chunk, " "); i >= 0 {
		if n := len([]rune(chunk[:i])) + 1; n > limit/2 {
			return n
		}
	}
	return limit
}

// FixMarkdown closes an unterminated code block and unbalanced inline code
// outside of code blocks, so Telegram accepts the text as Markdown.
func FixMarkdown(text string) string {
	if strings.Count(text, fence)%2 == 1 {
		text += "\n" + fence
	}

	var b strings.Builder
	b.Grow(len(text) + 1)
	inBlock, inCode := false, false
	for i := 0; i < len(text); i++ {
		if strings.HasPrefix(text[i:], fence) {
			if inCode {
				b.WriteByte('`')
				inCode = false
			}
			inBlock = !inBlock
			b.WriteString(fence)
			i += len(fence) - 1
			continue
		}
		if text[i] == '`' && !inBlock {
			inCode = !inCode
		}
		b.WriteByte(text[i])
	}
	if inCode {
		b.WriteByte('`')
	}
	return b.String()
}
