package tasks

import (
	"strings"

	"github.com/confide-ai/confide/pkg/models"
)

// dropEmptyMessages removes messages with empty content.
func dropEmptyMessages(messages []models.Message) []models.Message {
	filtered := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// messagesToStringSlice converts messages to "role: content" lines.
func messagesToStringSlice(messages []models.Message) []string {
	texts := make([]string, len(messages))
	for i, m := range messages {
		texts[i] = m.Role + ": " + m.Content
	}
	return texts
}
