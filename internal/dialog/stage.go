// Package dialog infers the state of a rental conversation from its message
// history alone: which piece of required information is still missing, and
// whether the dialog has collected everything it needs.
package dialog

import (
	"strings"
	"unicode"

	"rental-agent/internal/domain"
)

// PersonaName is the agent persona the customer talks to. A conversation is
// past the greeting stage only once an outbound message introduces it.
const PersonaName = "Светлана"

const greetingToken = "здравствуйте"

// phoneDigitThreshold is the minimum digit count for a single inbound message
// to count as containing a phone number.
const phoneDigitThreshold = 10

var residentKeywords = []string{"человек", "буду", "планирую", "один", "два", "три", "семь", "пара", "семья"}

var periodKeywords = []string{"месяц", "год", "надолго", "постоянно"}

var monthKeywords = []string{
	"январ", "феврал", "март", "апрел", "май", "июн",
	"июл", "август", "сентябр", "октябр", "ноябр", "декабр",
}

// signals is the keyword evidence collected from the inbound side of a
// conversation.
type signals struct {
	hasResidents bool
	hasPeriod    bool
	hasDate      bool
	hasPhone     bool
}

// stageRule pairs a predicate with the stage it resolves to. Rules are
// evaluated in order and the first match wins, so a rule may assume every
// earlier predicate was false.
type stageRule struct {
	matches func(sig signals, lastAgent string) bool
	stage   domain.Stage
}

// stageRules is the classifier's ordered rule table. Order matters: when the
// agent just asked a question that has not been answered yet, the earlier
// rule takes the tie.
var stageRules = []stageRule{
	{
		matches: func(sig signals, lastAgent string) bool {
			return !sig.hasResidents || strings.Contains(lastAgent, "кто проживать планирует")
		},
		stage: domain.StageResidents,
	},
	{
		matches: func(sig signals, lastAgent string) bool {
			return containsAny(lastAgent, "дет", "ребен") && !sig.hasPeriod
		},
		stage: domain.StageChildren,
	},
	{
		matches: func(sig signals, lastAgent string) bool {
			return containsAny(lastAgent, "животн", "питом") && !sig.hasPeriod
		},
		stage: domain.StagePets,
	},
	{
		matches: func(sig signals, lastAgent string) bool {
			return !sig.hasPeriod || containsAny(lastAgent, "срок", "месяц")
		},
		stage: domain.StageRentalPeriod,
	},
	{
		matches: func(sig signals, lastAgent string) bool {
			return !sig.hasDate || containsAny(lastAgent, "дата", "заез")
		},
		stage: domain.StageDeadline,
	},
	{
		matches: func(sig signals, lastAgent string) bool {
			return !sig.hasPhone || containsAny(lastAgent, "телефон", "номер")
		},
		stage: domain.StageContacts,
	},
	{
		matches: func(signals, string) bool { return true },
		stage:   domain.StageComplete,
	},
}

// Classify maps a conversation's message history to the current dialog stage.
// It is pure and re-evaluated from scratch on every call; nothing about a
// previous classification is remembered.
func Classify(messages []domain.Message) domain.Stage {
	agentTexts, clientTexts := splitTexts(messages)

	if len(agentTexts) == 0 {
		return domain.StageGreeting
	}
	if !hasIntroduction(agentTexts) {
		return domain.StageGreeting
	}

	sig := collectSignals(clientTexts)
	lastAgent := agentTexts[len(agentTexts)-1]

	for _, rule := range stageRules {
		if rule.matches(sig, lastAgent) {
			return rule.stage
		}
	}
	return domain.StageComplete
}

// splitTexts returns the lower-cased, non-empty text bodies of the
// conversation, separated by direction and in message order.
func splitTexts(messages []domain.Message) (agent, client []string) {
	for _, m := range messages {
		if m.Kind != domain.KindText {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(m.Text))
		if text == "" {
			continue
		}
		if m.Direction == domain.DirectionOut {
			agent = append(agent, text)
		} else {
			client = append(client, text)
		}
	}
	return agent, client
}

func hasIntroduction(agentTexts []string) bool {
	persona := strings.ToLower(PersonaName)
	for _, text := range agentTexts {
		if strings.Contains(text, greetingToken) && strings.Contains(text, persona) {
			return true
		}
	}
	return false
}

func collectSignals(clientTexts []string) signals {
	corpus := strings.Join(clientTexts, " ")

	hasPhone := false
	for _, text := range clientTexts {
		if countDigits(text) >= phoneDigitThreshold {
			hasPhone = true
			break
		}
	}

	return signals{
		hasResidents: containsAny(corpus, residentKeywords...),
		hasPeriod: containsAny(corpus, periodKeywords...) ||
			(strings.Contains(corpus, "месяц") && containsDigit(corpus)),
		hasDate: containsAny(corpus, monthKeywords...) ||
			(strings.Contains(corpus, "число") && containsDigit(corpus)),
		hasPhone: hasPhone,
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
