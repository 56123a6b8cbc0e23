package dialog

import (
	"strings"

	"rental-agent/internal/domain"
)

// CompletionMarker is the token the reply generator appends when it judges
// the dialog finished. It is authoritative for completion and must never
// reach the customer; replies are stripped with StripMarker before sending.
const CompletionMarker = "[ЗАЯВКА_ГОТОВА]"

// Evaluate reports whether the dialog has collected everything it needs.
// Either signal is sufficient: an explicit completion marker in any outbound
// message, or all four keyword signals present across the inbound transcript.
func Evaluate(messages []domain.Message) bool {
	agentTexts, clientTexts := splitTexts(messages)

	marker := strings.ToLower(CompletionMarker)
	for _, text := range agentTexts {
		if strings.Contains(text, marker) {
			return true
		}
	}

	sig := collectSignals(clientTexts)
	return sig.hasResidents && sig.hasPeriod && sig.hasDate && sig.hasPhone
}

// AllSignals reports whether the conjunctive heuristic alone is satisfied,
// independent of any explicit marker.
func AllSignals(messages []domain.Message) bool {
	_, clientTexts := splitTexts(messages)
	sig := collectSignals(clientTexts)
	return sig.hasResidents && sig.hasPeriod && sig.hasDate && sig.hasPhone
}

// HasMarker reports whether a generated reply carries the completion marker.
func HasMarker(reply string) bool {
	return strings.Contains(reply, CompletionMarker)
}

// StripMarker removes the completion marker from a reply before it is sent.
func StripMarker(reply string) string {
	return strings.TrimSpace(strings.ReplaceAll(reply, CompletionMarker, ""))
}
