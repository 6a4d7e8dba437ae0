// Package chat wires the identity provider, event channel, conversation
// store and history API into the surface the UI consumes. The store is owned
// by the Client and injected where needed; nothing in the subsystem reads it
// as ambient state.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/cache"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/channel"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/config"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/history"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/identity"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/logger"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

const resyncTimeout = 30 * time.Second

// NavigateFunc is invoked with a conversation id when the user selects an
// entry; the UI layer decides what opening a conversation looks like.
type NavigateFunc func(conversationID string)

// Client is the conversation subsystem façade. Lifecycle: New, Run on
// session start, Close on sign-out.
type Client struct {
	viewer    *identity.Identity
	api       *history.Client
	channel   *channel.Channel
	store     *store.Store
	presenter *store.Presenter
	snapshots *cache.Snapshot
	navigate  NavigateFunc

	mu        sync.Mutex
	lastState store.ConnState
}

// New builds a Client from configuration. The token must be a valid,
// unexpired credential from the identity provider.
func New(cfg *config.Config, navigate NavigateFunc) (*Client, error) {
	viewer, err := identity.FromToken(cfg.Auth.Token)
	if err != nil {
		return nil, err
	}

	api := history.NewClient(cfg.API.BaseURL, viewer.Token, cfg.API.PageSize)
	st := store.New(viewer.UserID, api)

	c := &Client{
		viewer:    viewer,
		api:       api,
		channel:   channel.New(cfg.Channel),
		store:     st,
		presenter: store.NewPresenter(st, viewer.UserID),
		snapshots: cache.Open(cfg.Cache.Path),
		navigate:  navigate,
		lastState: store.StateClosed,
	}

	c.channel.OnMessage(c.store.Enqueue)
	c.channel.OnStateChange(c.onStateChange)
	return c, nil
}

// Run starts the merge loop, opens the event channel and performs the
// initial load. A failed initial load is non-fatal: the store keeps the
// cached (or empty) list and the caller retries via Reload. A rejected
// token is fatal and surfaces channel.ErrChannelAuth.
func (c *Client) Run(ctx context.Context) error {
	c.store.Start(ctx)

	if cached := c.snapshots.Load(); len(cached) > 0 {
		c.store.Seed(cached)
		logger.L.Info("seeded conversation list from snapshot cache", "conversations", len(cached))
	}

	if err := c.channel.Open(ctx, c.viewer.Token); err != nil {
		return err
	}

	if err := c.store.LoadInitial(ctx); err != nil {
		logger.L.Warn("initial conversation load failed, keeping stale list", "error", err)
		return nil
	}
	c.snapshots.Store(c.store.Snapshot())
	return nil
}

// Reload retries the snapshot load on demand. Existing store contents are
// never cleared on failure.
func (c *Client) Reload(ctx context.Context) error {
	if err := c.store.LoadInitial(ctx); err != nil {
		return err
	}
	c.snapshots.Store(c.store.Snapshot())
	return nil
}

// Close releases the channel and the snapshot cache. Idempotent.
func (c *Client) Close() {
	c.channel.Close()
	if err := c.snapshots.Close(); err != nil {
		logger.L.Warn("snapshot cache close failed", "error", err)
	}
}

// Conversations returns the ordered conversation list.
func (c *Client) Conversations() []store.Conversation {
	return c.presenter.Conversations()
}

// Search filters the list; see Presenter.Search.
func (c *Client) Search(term string) []store.Conversation {
	return c.presenter.Search(term)
}

// Presenter exposes the display formatting helpers.
func (c *Client) Presenter() *store.Presenter {
	return c.presenter
}

// MarkRead clears a conversation's unread count.
func (c *Client) MarkRead(conversationID string) error {
	return c.store.MarkRead(conversationID)
}

// TotalUnread returns the derived total across all conversations.
func (c *Client) TotalUnread() int {
	return c.store.TotalUnread()
}

// ConnState returns the current event channel state.
func (c *Client) ConnState() store.ConnState {
	return c.channel.State()
}

// Open selects a conversation: it is marked read, becomes the active
// conversation (suppressing unread increments while open), and the
// navigation callback fires.
func (c *Client) Open(conversationID string) error {
	if err := c.store.MarkRead(conversationID); err != nil {
		return err
	}
	c.store.SetActive(conversationID)
	if c.navigate != nil {
		c.navigate(conversationID)
	}
	return nil
}

// Leave clears the active conversation when the UI navigates away.
func (c *Client) Leave() {
	c.store.SetActive("")
}

// StartConversation creates a thread with the recipient, optionally linked
// to a product or a job, and places it in the list.
func (c *Client) StartConversation(ctx context.Context, recipientID, productID, jobID string) (*store.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, recipientID, productID, jobID)
	if err != nil {
		return nil, err
	}
	c.store.Add(*conv)
	return conv, nil
}

// Messages fetches one page of a conversation's history on demand.
func (c *Client) Messages(ctx context.Context, conversationID string, page int) ([]store.Message, bool, error) {
	return c.api.ListMessages(ctx, conversationID, page)
}

// onStateChange resyncs the store exactly once per reconnect, since events
// missed during the gap are not replayed by the channel.
func (c *Client) onStateChange(s store.ConnState) {
	c.mu.Lock()
	prev := c.lastState
	c.lastState = s
	c.mu.Unlock()

	if prev == store.StateReconnecting && s == store.StateOpen {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
			defer cancel()
			err := c.store.OnReconnect(ctx)
			for errors.Is(err, store.ErrLoadInFlight) && ctx.Err() == nil {
				// A load started before the drop is still in flight; wait it
				// out rather than skipping the resync.
				time.Sleep(50 * time.Millisecond)
				err = c.store.OnReconnect(ctx)
			}
			if err != nil {
				logger.L.Warn("resync after reconnect failed, keeping stale list", "error", err)
				return
			}
			c.snapshots.Store(c.store.Snapshot())
		}()
	}
}
