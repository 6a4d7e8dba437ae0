package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/logger"
)

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrMalformedEvent      = errors.New("malformed message event")
	ErrLoadInFlight        = errors.New("load already in flight")
)

// Snapshotter is the slice of the history API the store needs for initial
// load and resync. It is satisfied by *history.Client.
type Snapshotter interface {
	ListConversations(ctx context.Context, page int) ([]Conversation, bool, error)
}

// journalEntry records a live event applied while a snapshot load was in
// flight, so the completing load can be reconciled against newer live state.
type journalEntry struct {
	msg Message
}

// Store is the single source of truth for the in-memory conversation list.
// All mutation goes through Apply, LoadInitial and MarkRead; the list is
// ordered most-recently-active first and is never partially updated.
type Store struct {
	mu       sync.Mutex
	viewerID string
	loader   Snapshotter

	conversations []*Conversation
	index         map[string]*Conversation

	// activeID, when set, suppresses unread increments for that conversation.
	activeID string

	loading bool
	journal []journalEntry

	events chan Message
	closed chan struct{}
}

// New creates a Store for the given viewer. The loader supplies snapshots
// for LoadInitial and reconnect resync.
func New(viewerID string, loader Snapshotter) *Store {
	return &Store{
		viewerID: viewerID,
		loader:   loader,
		index:    make(map[string]*Conversation),
		events:   make(chan Message, 256),
		closed:   make(chan struct{}),
	}
}

// Enqueue hands an inbound message event to the store's merge queue. Events
// are applied strictly in the order they are enqueued. Once the consumer has
// stopped, events are dropped so a straggling channel goroutine never blocks
// on a full queue.
func (s *Store) Enqueue(msg Message) {
	select {
	case s.events <- msg:
	case <-s.closed:
		logger.L.Warn("store stopped; dropping message event", "message_id", msg.ID)
	}
}

// Start launches the single consumer of the event queue. A malformed event
// is logged and discarded; it never stops the loop.
func (s *Store) Start(ctx context.Context) {
	go func() {
		defer close(s.closed)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-s.events:
				if err := s.Apply(msg); err != nil {
					logger.L.Warn("discarding message event", "message_id", msg.ID, "error", err)
				}
			}
		}
	}()
}

// Apply merges one inbound message event into the list:
//
//  1. locate the conversation, synthesizing a placeholder for unknown ids;
//  2. overwrite lastMessage/updatedAt unconditionally (arrival order wins,
//     the channel preserves server order);
//  3. move the conversation to the front;
//  4. increment unread unless the viewer sent it or has it open.
//
// Apply is atomic per event. In production it is only called from the Start
// loop, which serializes events in delivery order.
func (s *Store) Apply(msg Message) error {
	if msg.ID == "" || msg.ConversationID == "" || msg.CreatedAt.IsZero() {
		return ErrMalformedEvent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mergeLocked(msg)
	if s.loading {
		s.journal = append(s.journal, journalEntry{msg: msg})
	}
	return nil
}

// mergeLocked applies the merge steps for one event.
func (s *Store) mergeLocked(msg Message) {
	c, ok := s.index[msg.ConversationID]
	if !ok {
		// Participants stay unknown until the next snapshot; the event is
		// never dropped.
		c = &Conversation{ID: msg.ConversationID}
		s.index[c.ID] = c
		s.conversations = append(s.conversations, c)
		logger.L.Debug("synthesized placeholder conversation", "conversation_id", c.ID)
	}

	m := msg
	c.LastMessage = &m
	c.UpdatedAt = msg.CreatedAt
	s.moveToFrontLocked(c)

	if msg.Sender.ID != s.viewerID && msg.ConversationID != s.activeID {
		c.UnreadCount++
	}
}

func (s *Store) moveToFrontLocked(c *Conversation) {
	for i, existing := range s.conversations {
		if existing == c {
			copy(s.conversations[1:i+1], s.conversations[:i])
			s.conversations[0] = c
			return
		}
	}
}

// LoadInitial fetches the current snapshot page and replaces the store
// contents with it. On failure an already-populated store keeps its stale
// contents; a cancelled load applies nothing. Events arriving while the
// fetch is in flight keep being applied, and are reconciled once the
// snapshot lands so it cannot regress newer live state.
func (s *Store) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrLoadInFlight
	}
	s.loading = true
	s.journal = nil
	s.mu.Unlock()

	convs, _, err := s.loader.ListConversations(ctx, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	journal := s.journal
	s.journal = nil

	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.replaceLocked(convs, journal)
	return nil
}

// replaceLocked installs the snapshot and re-merges journaled live events
// that are newer than the snapshot's view of their conversation. Events the
// snapshot already reflects keep the server's unread count, so a resync
// never double-counts.
func (s *Store) replaceLocked(convs []Conversation, journal []journalEntry) {
	s.conversations = make([]*Conversation, 0, len(convs))
	s.index = make(map[string]*Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		s.conversations = append(s.conversations, &c)
		s.index[c.ID] = &c
	}

	for _, e := range journal {
		c, ok := s.index[e.msg.ConversationID]
		if ok && c.LastMessage != nil {
			if c.LastMessage.ID == e.msg.ID || !e.msg.CreatedAt.After(c.UpdatedAt) {
				continue
			}
		}
		s.mergeLocked(e.msg)
	}
}

// OnReconnect resynchronizes after the event channel returns to open.
// Missed events are not replayed by the channel; this is the sole recovery
// path for dropped deltas.
func (s *Store) OnReconnect(ctx context.Context) error {
	logger.L.Info("channel reconnected, resyncing conversation list")
	return s.LoadInitial(ctx)
}

// Seed installs cached conversations, but only into an empty store. It lets
// a restarted process show stale data before the first load completes.
func (s *Store) Seed(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conversations) > 0 {
		return
	}
	s.replaceLocked(convs, nil)
}

// Add inserts a conversation returned by the history API's start-conversation
// call at the front of the list. Existing conversations are left untouched.
func (s *Store) Add(conv Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[conv.ID]; ok {
		return
	}
	c := conv
	s.index[c.ID] = &c
	s.conversations = append([]*Conversation{&c}, s.conversations...)
}

// MarkRead sets the conversation's unread count to zero. Idempotent; other
// conversations are untouched.
func (s *Store) MarkRead(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[conversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}
	c.UnreadCount = 0
	return nil
}

// SetActive marks a conversation as currently open. Events for the active
// conversation do not increment its unread count. Pass "" to clear.
func (s *Store) SetActive(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = conversationID
}

// TotalUnread derives the total across all conversations. It is recomputed
// on demand and never cached, so it cannot drift from the per-conversation
// counts.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

// Snapshot returns a copy of the ordered conversation list.
func (s *Store) Snapshot() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		cc := *c
		if c.LastMessage != nil {
			m := *c.LastMessage
			cc.LastMessage = &m
		}
		cc.Participants = append([]Participant(nil), c.Participants...)
		out = append(out, cc)
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.index[conversationID]
	if !ok {
		return Conversation{}, false
	}
	cc := *c
	if c.LastMessage != nil {
		m := *c.LastMessage
		cc.LastMessage = &m
	}
	cc.Participants = append([]Participant(nil), c.Participants...)
	return cc, true
}
