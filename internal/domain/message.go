package domain

// Direction tells who authored a chat message.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// KindText is the only message kind the agent reacts to; everything else
// (images, locations, system events) is skipped.
const KindText = "text"

// Message is a single marketplace chat message as returned by the messenger API.
type Message struct {
	ID        string
	Direction Direction
	Kind      string
	CreatedAt int64 // epoch seconds
	AuthorID  int64 // 0 means system/synthetic
	Text      string
}

// ChatMessage is the provider-agnostic chat message shape used by the LLM
// integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
