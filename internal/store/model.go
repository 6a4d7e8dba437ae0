package store

import "time"

// ContentKind classifies a message payload.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindFile  ContentKind = "file"
	KindVoice ContentKind = "voice"
)

// Participant is an immutable snapshot of a user as received from the
// identity/profile service. The subsystem never mutates it.
type Participant struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Verified  bool   `json:"verified"`
}

// Message is a single chat message. Only the last message per conversation
// is retained in the summary list; full history is fetched per conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Sender         Participant `json:"sender"`
	Content        string      `json:"content"`
	Kind           ContentKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Conversation is a two-party thread summary. ProductID and JobID are
// mutually exclusive foreign keys into the surrounding marketplace; they are
// opaque here. UnreadCount is scoped to the viewing user.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	ProductID    string        `json:"product_id,omitempty"`
	JobID        string        `json:"job_id,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
	UnreadCount  int           `json:"unread_count"`
}

// Other returns the participant that is not the viewer. The zero Participant
// is returned for placeholder conversations whose members are not yet known.
func (c *Conversation) Other(viewerID string) Participant {
	for _, p := range c.Participants {
		if p.ID != viewerID {
			return p
		}
	}
	return Participant{}
}

// ConnState is the event channel connection state. It is never persisted.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
)
