package dialog

import (
	"sort"
	"strings"

	"rental-agent/internal/domain"
)

const deletedPlaceholder = "сообщение удалено"

const clientLabel = "Клиент"

// LastClientMessage returns the most recent qualifying inbound message: text
// kind, non-system author, non-empty body, and not the deleted-message
// placeholder. The second return value is false when no such message exists.
func LastClientMessage(messages []domain.Message) (domain.Message, bool) {
	var last domain.Message
	found := false
	for _, m := range messages {
		if !isRealClientMessage(m) {
			continue
		}
		if !found || newer(m, last) {
			last = m
			found = true
		}
	}
	return last, found
}

func isRealClientMessage(m domain.Message) bool {
	return m.Direction == domain.DirectionIn &&
		m.Kind == domain.KindText &&
		m.AuthorID != 0 &&
		strings.TrimSpace(m.Text) != "" &&
		!strings.Contains(strings.ToLower(m.Text), deletedPlaceholder)
}

// newer orders messages by CreatedAt with ID as the tie-breaker.
func newer(a, b domain.Message) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

// FormatTranscript renders the last max messages as labeled transcript lines
// in chronological order, skipping non-text, system, empty and deleted
// messages. An agent line that already starts with the persona prefix is not
// double-labeled.
func FormatTranscript(messages []domain.Message, max int) string {
	sorted := make([]domain.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool { return newer(sorted[j], sorted[i]) })

	if max > 0 && len(sorted) > max {
		sorted = sorted[len(sorted)-max:]
	}

	personaPrefix := PersonaName + ": "
	var lines []string
	for _, m := range sorted {
		if m.Kind != domain.KindText || m.AuthorID == 0 {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" || strings.Contains(strings.ToLower(text), deletedPlaceholder) {
			continue
		}
		switch m.Direction {
		case domain.DirectionIn:
			lines = append(lines, clientLabel+": "+text)
		case domain.DirectionOut:
			text = strings.TrimSpace(strings.TrimPrefix(text, personaPrefix))
			lines = append(lines, personaPrefix+text)
		}
	}
	return strings.Join(lines, "\n")
}
