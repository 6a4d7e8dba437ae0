package store

import (
	"strings"
	"time"
)

// Display labels for non-text message kinds and empty conversations. Search
// matches these labels for non-text messages, never the binary content.
const (
	labelImage       = "Photo"
	labelFile        = "File"
	labelVoice       = "Voice message"
	labelNoMessages  = "No messages yet"
	labelUnknownKind = "Message"
)

// Presenter is the read-only projection of the store the UI renders. It
// never mutates store state or ordering.
type Presenter struct {
	store    *Store
	viewerID string
	now      func() time.Time
}

// NewPresenter creates a Presenter over the given store.
func NewPresenter(s *Store, viewerID string) *Presenter {
	return &Presenter{store: s, viewerID: viewerID, now: time.Now}
}

// Conversations returns the full ordered list.
func (p *Presenter) Conversations() []Conversation {
	return p.store.Snapshot()
}

// Search filters the list by case-insensitive substring match against the
// other participant's first name, last name and username, and against the
// last message preview. An empty term returns the full list in store order.
func (p *Presenter) Search(term string) []Conversation {
	all := p.store.Snapshot()
	term = strings.ToLower(term)
	if term == "" {
		return all
	}

	out := make([]Conversation, 0, len(all))
	for _, c := range all {
		other := c.Other(p.viewerID)
		haystack := []string{other.FirstName, other.LastName, other.Username}
		if c.LastMessage != nil {
			haystack = append(haystack, p.PreviewFor(c))
		}
		for _, h := range haystack {
			if strings.Contains(strings.ToLower(h), term) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// PreviewFor returns the display string for a conversation's last message:
// the raw text for text messages, a fixed label otherwise.
func (p *Presenter) PreviewFor(c Conversation) string {
	if c.LastMessage == nil {
		return labelNoMessages
	}
	switch c.LastMessage.Kind {
	case KindText:
		return c.LastMessage.Content
	case KindImage:
		return labelImage
	case KindFile:
		return labelFile
	case KindVoice:
		return labelVoice
	default:
		return labelUnknownKind
	}
}

// RelativeTime formats updatedAt for the list row: clock time under 24h,
// "Yesterday" between 24h and 48h, a short date beyond that.
func (p *Presenter) RelativeTime(c Conversation) string {
	if c.UpdatedAt.IsZero() {
		return ""
	}
	age := p.now().Sub(c.UpdatedAt)
	switch {
	case age < 24*time.Hour:
		return c.UpdatedAt.Format("15:04")
	case age < 48*time.Hour:
		return "Yesterday"
	default:
		return c.UpdatedAt.Format("Jan 2")
	}
}
