package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LadderStage is a position on the reminder back-off ladder. Each stage's
// delay is measured from the original anchor, not from the previous send.
type LadderStage string

const (
	Ladder2h  LadderStage = "2h"
	Ladder16h LadderStage = "16h"
	Ladder2d  LadderStage = "2d"
	Ladder4d  LadderStage = "4d"
)

var ladderIntervals = map[LadderStage]time.Duration{
	Ladder2h:  2 * time.Hour,
	Ladder16h: 16 * time.Hour,
	Ladder2d:  48 * time.Hour,
	Ladder4d:  96 * time.Hour,
}

// nextLadder maps each ladder stage to its successor. The 4d stage is
// terminal.
var nextLadder = map[LadderStage]LadderStage{
	Ladder2h:  Ladder16h,
	Ladder16h: Ladder2d,
	Ladder2d:  Ladder4d,
}

// ReminderTexts are the outbound texts bound to each ladder stage.
var ReminderTexts = map[LadderStage]string{
	Ladder2h:  "Добрый день! Это Светлана, АН Skyline. Подскажите, актуален ли еще вопрос по квартире?",
	Ladder16h: "Здравствуйте! Напоминаю о себе — рассматриваете ли вы еще этот вариант?",
	Ladder2d:  "Добрый день! Квартира пока свободна. Если интересно, с радостью отвечу на любые вопросы.",
	Ladder4d:  "Здравствуйте! Если вариант стал неактуален, дайте, пожалуйста, знать — сниму квартиру с брони.",
}

// FollowupState is the live reminder state of one conversation.
// LastClientActivity anchors all interval math and never changes within a
// sequence.
type FollowupState struct {
	LastClientActivity int64
	NextDueAt          int64
	Stage              LadderStage
}

// ReminderSender delivers a reminder text into a chat.
type ReminderSender interface {
	SendText(ctx context.Context, chatID, text string) error
}

// CompletionProbe re-checks, against the live chat history, whether a
// conversation already collected everything it needs.
type CompletionProbe interface {
	IsComplete(ctx context.Context, chatID string) (bool, error)
}

// ChatLocker serializes follow-up ticking against chat processing for the
// same chat.
type ChatLocker interface {
	Lock(chatID string) (unlock func())
}

// Scheduler owns per-conversation reminder state. A conversation has at most
// one live FollowupState; it is deleted on new inbound activity, on
// completion, and after the terminal ladder stage fires.
type Scheduler struct {
	window    Window
	sender    ReminderSender
	probe     CompletionProbe
	completed func(chatID string) bool
	locks     ChatLocker
	logger    *slog.Logger

	mu     sync.Mutex
	states map[string]FollowupState
}

// NewScheduler creates a Scheduler. completed reports whether a conversation
// is already marked completed and may be nil; probe and locks may be nil in
// tests.
func NewScheduler(window Window, sender ReminderSender, probe CompletionProbe, completed func(chatID string) bool, locks ChatLocker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		window:    window,
		sender:    sender,
		probe:     probe,
		completed: completed,
		locks:     locks,
		logger:    logger,
		states:    make(map[string]FollowupState),
	}
}

// Arm starts (or restarts) the reminder sequence for a chat, anchored at the
// customer's last activity. The latest inbound activity always wins: any
// existing state is overwritten. Arming a completed conversation is a no-op.
func (s *Scheduler) Arm(chatID string, lastActivity int64) {
	if s.completed != nil && s.completed(chatID) {
		return
	}
	state := FollowupState{
		LastClientActivity: lastActivity,
		NextDueAt:          s.window.ComputeNext(lastActivity, ladderIntervals[Ladder2h]),
		Stage:              Ladder2h,
	}

	s.mu.Lock()
	s.states[chatID] = state
	s.mu.Unlock()

	s.logger.Info("follow-up armed",
		"chat_id", chatID,
		"due_at", time.Unix(state.NextDueAt, 0).In(businessTZ).Format(time.DateTime))
}

// Disarm cancels the reminder sequence for a chat. Calling it for a chat
// without a live sequence is a no-op.
func (s *Scheduler) Disarm(chatID string) {
	s.mu.Lock()
	_, existed := s.states[chatID]
	delete(s.states, chatID)
	s.mu.Unlock()

	if existed {
		s.logger.Info("follow-up disarmed", "chat_id", chatID)
	}
}

// State returns a copy of the live follow-up state for a chat.
func (s *Scheduler) State(chatID string) (FollowupState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[chatID]
	return state, ok
}

// Tick processes every conversation whose reminder is due at now. Each due
// chat is handled under its per-chat lock so a tick never races a chat
// processing pass for the same conversation.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, chatID := range s.dueChats(now) {
		if s.locks != nil {
			unlock := s.locks.Lock(chatID)
			s.processDue(ctx, chatID, now)
			unlock()
		} else {
			s.processDue(ctx, chatID, now)
		}
	}
}

func (s *Scheduler) dueChats(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for chatID, state := range s.states {
		if state.NextDueAt <= now.Unix() {
			due = append(due, chatID)
		}
	}
	return due
}

func (s *Scheduler) processDue(ctx context.Context, chatID string, now time.Time) {
	s.mu.Lock()
	state, ok := s.states[chatID]
	s.mu.Unlock()
	// A disarm may have won the race between dueChats and the chat lock.
	if !ok || state.NextDueAt > now.Unix() {
		return
	}

	// Due times land in-window by construction, but a reconfigured window can
	// strand one outside it. Re-snap without sending.
	if !s.window.Contains(time.Unix(state.NextDueAt, 0)) {
		state.NextDueAt = s.window.ComputeNext(state.NextDueAt, 0)
		s.put(chatID, state)
		return
	}

	// Best effort: the customer may have finished the dialog since the
	// sequence was armed. A probe failure does not block the send.
	if s.probe != nil {
		if complete, err := s.probe.IsComplete(ctx, chatID); err == nil && complete {
			s.logger.Info("dialog complete, cancelling follow-up", "chat_id", chatID)
			s.Disarm(chatID)
			return
		}
	}

	if err := s.sender.SendText(ctx, chatID, ReminderTexts[state.Stage]); err != nil {
		// State untouched: the same reminder is retried on the next tick.
		s.logger.Error("follow-up send failed", "chat_id", chatID, "stage", string(state.Stage), "err", err)
		return
	}
	s.logger.Info("follow-up sent", "chat_id", chatID, "stage", string(state.Stage))

	next, ok := nextLadder[state.Stage]
	if !ok {
		// Terminal stage fired; the sequence retires.
		s.Disarm(chatID)
		return
	}

	state.Stage = next
	state.NextDueAt = s.window.ComputeNext(state.LastClientActivity, ladderIntervals[next])
	s.put(chatID, state)
}

func (s *Scheduler) put(chatID string, state FollowupState) {
	s.mu.Lock()
	s.states[chatID] = state
	s.mu.Unlock()
}
