package domain

// Stage is the ordinal position in the information-gathering sequence.
type Stage int

const (
	StageGreeting Stage = iota
	StageResidents
	StageChildren
	StagePets
	StageRentalPeriod
	StageDeadline
	StageContacts
	StageComplete
)

var stageNames = map[Stage]string{
	StageGreeting:     "greeting",
	StageResidents:    "residents",
	StageChildren:     "children",
	StagePets:         "pets",
	StageRentalPeriod: "rental_period",
	StageDeadline:     "deadline",
	StageContacts:     "contacts",
	StageComplete:     "complete",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Location is the listing's coordinates and city title.
type Location struct {
	Title string  `json:"title"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// ListingContext is the listing metadata attached to a chat. It is captured
// once from the first chat payload and retained for the lifetime of the
// conversation.
type ListingContext struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	PriceString string   `json:"price_string"`
	Location    Location `json:"location"`
}

// Chat is one entry of the active-chats listing.
type Chat struct {
	ID      string
	Listing ListingContext
}

// Conversation is the per-chat aggregate the agent tracks for the lifetime of
// the process. LastProcessedInbound is the dedup watermark: inbound messages
// at or below it are considered already handled.
type Conversation struct {
	ChatID               string
	Stage                Stage
	LastProcessedInbound int64
	Listing              ListingContext
	Completed            bool
	History              []string
}
