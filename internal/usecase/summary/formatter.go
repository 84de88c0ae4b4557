package summary

import (
	"fmt"
	"strings"
	"time"

	"slack-digest-bot/internal/domain"
)

const windowLayout = "Jan 2 15:04"

// FormatSummary готовит текст сводки в Slack mrkdwn.
// directory сопоставляет имена (в нижнем регистре) с идентификаторами для упоминаний.
func FormatSummary(result domain.SummaryResult, window domain.TimeWindow, loc *time.Location, directory map[string]string) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily Summary* (%s)\n", pluralMessages(result.MessageCount))
	start, end := window.Start.In(loc), window.End.In(loc)
	fmt.Fprintf(&b, "_%s to %s %s_\n\n", start.Format(windowLayout), end.Format(windowLayout), end.Format("MST"))

	if result.MessageCount == 0 {
		for _, point := range result.KeyPoints {
			b.WriteString(point)
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	for i, point := range result.KeyPoints {
		topic, sentence, ok := strings.Cut(point, ": ")
		if ok && topic != "" && len([]rune(topic)) <= 60 {
			fmt.Fprintf(&b, "*%d. %s:* %s\n", i+1, strings.Trim(topic, "*"), sentence)
			continue
		}
		fmt.Fprintf(&b, "*%d.* %s\n", i+1, point)
	}

	if len(result.ActionItems) > 0 {
		b.WriteString("\n*Action Items:*\n")
		for _, item := range result.ActionItems {
			b.WriteString("• ")
			if owner := mention(item.Owner, directory); owner != "" {
				b.WriteString(owner)
				b.WriteString(": ")
			}
			b.WriteString(item.Description)
			if item.Deadline != "" {
				fmt.Fprintf(&b, " (due %s)", item.Deadline)
			}
			b.WriteString("\n")
		}
	}

	if result.OmittedCount > 0 {
		fmt.Fprintf(&b, "\n_The oldest %s were left out to fit the model input limit._\n", pluralMessages(result.OmittedCount))
	}
	return strings.TrimRight(b.String(), "\n")
}

func mention(owner string, directory map[string]string) string {
	owner = strings.TrimSpace(strings.TrimPrefix(owner, "@"))
	if owner == "" {
		return ""
	}
	key := strings.ToLower(owner)
	if id, ok := directory[key]; ok {
		return "<@" + id + ">"
	}
	if first, _, ok := strings.Cut(key, " "); ok {
		if id, ok := directory[first]; ok {
			return "<@" + id + ">"
		}
	}
	return "@" + owner
}

func pluralMessages(n int) string {
	if n == 1 {
		return "1 message"
	}
	return fmt.Sprintf("%d messages", n)
}
