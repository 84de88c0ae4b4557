package slack

import "strings"

// messageLimit предел длины text в chat.postMessage.
const messageLimit = 40000

const truncationMark = "\n…"

// FitMessage укорачивает текст до предела Slack. Сводка публикуется одним сообщением,
// поэтому лишнее отрезается по границе строки.
func FitMessage(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return trimmed
	}

	end := messageLimit - len([]rune(truncationMark))
	split := -1
	for i := end; i > 0; i-- {
		if runes[i-1] == '\n' {
			split = i
			break
		}
	}
	if split == -1 {
		split = end
	}
	return strings.TrimRight(string(runes[:split]), "\n") + truncationMark
}
