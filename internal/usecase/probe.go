package usecase

import (
	"context"

	"rental-agent/internal/dialog"
)

// HistoryProbe answers the scheduler's pre-send completion re-check by
// pulling the live chat history and running the completion evaluator over it.
type HistoryProbe struct {
	transport ChatTransport
}

func NewHistoryProbe(transport ChatTransport) *HistoryProbe {
	return &HistoryProbe{transport: transport}
}

func (h *HistoryProbe) IsComplete(ctx context.Context, chatID string) (bool, error) {
	messages, err := h.transport.ListMessages(ctx, chatID)
	if err != nil {
		return false, newError(ErrorTransport, "list_messages_error", err)
	}
	return dialog.Evaluate(messages), nil
}
