package notify

import (
	"fmt"
	"strings"
	"time"
)

const excerptLimit = 150

// Message renders the user-facing text for a lifecycle event.
func Message(event Event, note Notification) string {
	switch event {
	case EventQueued:
		return fmt.Sprintf("Query queued at position #%d (%s)", note.Position, FormatWait(note.Wait))
	case EventStarting:
		return "Processing your query now..."
	case EventCompleted:
		result := strings.TrimSpace(note.Result)
		if result == "" {
			return "Analysis complete."
		}
		return result
	case EventFailed:
		var builder strings.Builder
		builder.WriteString("Analysis failed")
		if excerpt := excerpt(note.Query); excerpt != "" {
			builder.WriteString(" for query: ")
			builder.WriteString(excerpt)
		}
		if detail := strings.TrimSpace(note.ErrorDetail); detail != "" {
			builder.WriteString("\nReason: ")
			builder.WriteString(detail)
		}
		builder.WriteString("\nPlease try rephrasing your question or try again later.")
		return builder.String()
	default:
		return strings.TrimSpace(note.Result)
	}
}

// FormatWait renders an estimated wait duration as rough human phrasing:
// ~45 seconds, ~2 minutes, ~1h 5m.
func FormatWait(wait time.Duration) string {
	seconds := int(wait / time.Second)
	switch {
	case seconds < 60:
		return fmt.Sprintf("~%d seconds", seconds)
	case seconds < 3600:
		minutes := seconds / 60
		if minutes == 1 {
			return "~1 minute"
		}
		return fmt.Sprintf("~%d minutes", minutes)
	default:
		hours := seconds / 3600
		minutes := (seconds % 3600) / 60
		if minutes > 0 {
			return fmt.Sprintf("~%dh %dm", hours, minutes)
		}
		if hours == 1 {
			return "~1 hour"
		}
		return fmt.Sprintf("~%d hours", hours)
	}
}

func excerpt(query string) string {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) <= excerptLimit {
		return trimmed
	}
	return trimmed[:excerptLimit] + "..."
}
