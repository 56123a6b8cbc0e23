// Package usecase coordinates one polling cycle: pull active chats, answer
// every new inbound message, and drive the follow-up scheduler on completion
// or silence.
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental-agent/internal/dialog"
	"rental-agent/internal/domain"
	"rental-agent/internal/store"
)

const (
	defaultRecencyWindow = 3 * time.Hour
	defaultMaxHistory    = 30
)

// ChatTransport is the marketplace messenger the agent talks through.
// Implementations surface transport failures as errors and never panic past
// this boundary.
type ChatTransport interface {
	ListChats(ctx context.Context) ([]domain.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
	SendText(ctx context.Context, chatID, text string) error
}

// ReplyEngine turns a formatted transcript into the agent's next reply, and
// extracts the structured application from a finished dialog.
type ReplyEngine interface {
	GenerateReply(ctx context.Context, transcript string, firstTurn bool) (string, error)
	ExtractApplication(ctx context.Context, transcript string) (domain.Application, error)
}

// EscalationSink receives the final application summary for the operator.
type EscalationSink interface {
	PostSummary(ctx context.Context, app domain.Application, listing domain.ListingContext) error
}

// Followups is the reminder scheduler surface the processor drives.
type Followups interface {
	Arm(chatID string, lastActivity int64)
	Disarm(chatID string)
}

// Processor runs the per-cycle orchestration.
type Processor struct {
	transport     ChatTransport
	engine        ReplyEngine
	sink          EscalationSink
	followups     Followups
	store         *store.Store
	recencyWindow time.Duration
	maxHistory    int
	logger        *slog.Logger

	now func() time.Time
}

func NewProcessor(transport ChatTransport, engine ReplyEngine, sink EscalationSink, followups Followups, st *store.Store, recencyWindow time.Duration, maxHistory int, logger *slog.Logger) (*Processor, error) {
	if transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: reply engine must not be nil")
	}
	if sink == nil {
		return nil, errors.New("usecase: escalation sink must not be nil")
	}
	if followups == nil {
		return nil, errors.New("usecase: followups must not be nil")
	}
	if st == nil {
		return nil, errors.New("usecase: store must not be nil")
	}
	if recencyWindow <= 0 {
		recencyWindow = defaultRecencyWindow
	}
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		transport:     transport,
		engine:        engine,
		sink:          sink,
		followups:     followups,
		store:         st,
		recencyWindow: recencyWindow,
		maxHistory:    maxHistory,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// RunCycle fetches the active chats and processes each concurrently. A single
// chat's failure is logged and never aborts the cycle; only the initial chat
// listing can fail the cycle as a whole.
func (p *Processor) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()

	chats, err := p.transport.ListChats(ctx)
	if err != nil {
		return newError(ErrorTransport, "list_chats_error", err)
	}
	p.logger.Info("poll cycle started", "cycle_id", cycleID, "chats", len(chats))

	var wg sync.WaitGroup
	for _, chat := range chats {
		if chat.ID == "" {
			continue
		}
		wg.Add(1)
		go func(chat domain.Chat) {
			defer wg.Done()
			if err := p.ProcessChat(ctx, chat); err != nil {
				p.logger.Error("chat processing failed", "cycle_id", cycleID, "chat_id", chat.ID, "err", err)
			}
		}(chat)
	}
	wg.Wait()

	p.logger.Info("poll cycle finished", "cycle_id", cycleID)
	return nil
}

// ProcessChat handles one chat under its per-chat lock: locate the newest
// qualifying inbound message, reply to it, and either complete the dialog or
// re-arm the follow-up sequence. Disarm, classification and re-arm happen
// atomically with respect to scheduler ticks for the same chat.
func (p *Processor) ProcessChat(ctx context.Context, chat domain.Chat) error {
	unlock := p.store.Lock(chat.ID)
	defer unlock()

	conv := p.store.GetOrCreate(chat.ID)
	if conv.Completed {
		return nil
	}
	if conv.Listing == (domain.ListingContext{}) {
		conv.Listing = chat.Listing
	}

	messages, err := p.transport.ListMessages(ctx, chat.ID)
	if err != nil {
		return newError(ErrorTransport, "list_messages_error", err)
	}

	last, ok := dialog.LastClientMessage(messages)
	if !ok {
		return nil
	}
	if time.Unix(last.CreatedAt, 0).Before(p.now().Add(-p.recencyWindow)) {
		return nil
	}
	if last.CreatedAt <= conv.LastProcessedInbound {
		return nil
	}
	if hasNewerOutbound(messages, last.CreatedAt) {
		return nil
	}

	// New customer activity cancels any pending reminder before anything else.
	p.followups.Disarm(chat.ID)

	conv.Stage = dialog.Classify(messages)
	firstTurn := !hasOutboundText(messages)
	transcript := dialog.FormatTranscript(messages, p.maxHistory)

	p.logger.Info("qualifying message",
		"chat_id", chat.ID,
		"stage", conv.Stage.String(),
		"first_turn", firstTurn)

	reply, err := p.engine.GenerateReply(ctx, transcript, firstTurn)
	if err != nil {
		// No send, no state advance: the same message qualifies again next cycle.
		return newError(ErrorGeneration, "reply_error", err)
	}
	clean := dialog.StripMarker(reply)
	if clean == "" {
		return newError(ErrorGeneration, "empty_reply", nil)
	}

	if err := p.transport.SendText(ctx, chat.ID, clean); err != nil {
		return newError(ErrorTransport, "send_error", err)
	}

	// The send succeeded: commit the transition.
	conv.LastProcessedInbound = last.CreatedAt
	conv.History = append(conv.History, transcript)

	if dialog.HasMarker(reply) {
		p.completeDialog(ctx, conv, transcript+"\n"+dialog.PersonaName+": "+clean)
		return nil
	}
	if !dialog.AllSignals(messages) {
		p.followups.Arm(chat.ID, last.CreatedAt)
	}
	return nil
}

// completeDialog runs the one-shot extraction-and-escalation path. It
// degrades gracefully: extraction or escalation failures are logged, the
// conversation is still marked completed and follow-ups stay cancelled.
// Escalation is not retried after a failure.
func (p *Processor) completeDialog(ctx context.Context, conv *domain.Conversation, finalTranscript string) {
	app, err := p.engine.ExtractApplication(ctx, finalTranscript)
	if err != nil {
		p.logger.Error("application extraction failed", "chat_id", conv.ChatID,
			"err", newError(ErrorGeneration, "extraction_error", err))
	} else if err := p.sink.PostSummary(ctx, app, conv.Listing); err != nil {
		p.logger.Error("summary escalation failed", "chat_id", conv.ChatID,
			"err", newError(ErrorEscalation, "post_summary_error", err))
	} else {
		p.logger.Info("application escalated", "chat_id", conv.ChatID)
	}

	conv.Stage = domain.StageComplete
	conv.Completed = true
	p.followups.Disarm(conv.ChatID)
	p.logger.Info("dialog completed", "chat_id", conv.ChatID)
}

func hasNewerOutbound(messages []domain.Message, after int64) bool {
	for _, m := range messages {
		if m.Direction == domain.DirectionOut && m.CreatedAt > after {
			return true
		}
	}
	return false
}

func hasOutboundText(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Direction == domain.DirectionOut && m.Kind == domain.KindText {
			return true
		}
	}
	return false
}
