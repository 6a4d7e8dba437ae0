package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/channel"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/config"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/identity"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

var upgrader = websocket.Upgrader{}

func viewerToken(t *testing.T) string {
	t.Helper()
	claims := identity.Claims{UserID: "viewer-1", Username: "amina"}
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

type harness struct {
	cfg       *config.Config
	loads     *atomic.Int32
	wsConns   *atomic.Int32
	events    chan []byte
	dropFirst bool
}

// newHarness stands up a history API and an event channel endpoint. The
// history API returns conversations B (unread 2) then A, server-sorted by
// recency. Payloads written to h.events are pushed to the connected client.
func newHarness(t *testing.T, dropFirst bool) *harness {
	t.Helper()
	h := &harness{
		loads:     new(atomic.Int32),
		wsConns:   new(atomic.Int32),
		events:    make(chan []byte, 16),
		dropFirst: dropFirst,
	}

	t1 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/conversations":
			h.loads.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"conversations": []store.Conversation{
					{ID: "B", UpdatedAt: t1, UnreadCount: 2, Participants: []store.Participant{{ID: "viewer-1"}, {ID: "other-2", FirstName: "Brian"}}},
					{ID: "A", UpdatedAt: t0, Participants: []store.Participant{{ID: "viewer-1"}, {ID: "other-1", FirstName: "Cynthia"}}},
				},
				"has_more": false,
			})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/conversations":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(store.Conversation{ID: "new-conv", JobID: "job-3"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		if h.dropFirst && h.wsConns.Add(1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for payload := range h.events {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ws.Close)
	t.Cleanup(func() { close(h.events) })

	h.cfg = &config.Config{
		API:  config.APIConfig{BaseURL: api.URL, PageSize: 20},
		Auth: config.AuthConfig{Token: viewerToken(t)},
		Channel: config.ChannelConfig{
			URL:            "ws" + strings.TrimPrefix(ws.URL, "http"),
			MinBackoff:     10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			HandshakeGrace: 5 * time.Second,
		},
	}
	return h
}

func (h *harness) push(t *testing.T, msg store.Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{"type": "message", "message": json.RawMessage(raw)})
	require.NoError(t, err)
	h.events <- payload
}

func TestClient_EndToEnd(t *testing.T) {
	h := newHarness(t, false)

	var opened []string
	client, err := New(h.cfg, func(id string) { opened = append(opened, id) })
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Run(ctx))

	convs := client.Conversations()
	require.Equal(t, []string{"B", "A"}, convIDs(convs))
	require.Equal(t, 2, client.TotalUnread())
	require.Equal(t, store.StateOpen, client.ConnState())

	// A live event for A from the other participant moves it to the front
	// and bumps unread.
	h.push(t, store.Message{
		ID: "m1", ConversationID: "A",
		Sender:  store.Participant{ID: "other-1"},
		Content: "is the maize still available?", Kind: store.KindText,
		CreatedAt: time.Now(),
	})
	require.Eventually(t, func() bool {
		return client.TotalUnread() == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"A", "B"}, convIDs(client.Conversations()))

	// Searching never disturbs the order.
	require.Equal(t, []string{"A"}, convIDs(client.Search("maize")))
	require.Equal(t, []string{"A", "B"}, convIDs(client.Conversations()))

	// Opening A marks it read and fires the navigation callback.
	require.NoError(t, client.Open("A"))
	require.Equal(t, []string{"A"}, opened)
	require.Equal(t, 2, client.TotalUnread())

	// While A is open, its events do not accumulate unread.
	h.push(t, store.Message{
		ID: "m2", ConversationID: "A",
		Sender:  store.Participant{ID: "other-1"},
		Content: "yes, 50kg bags", Kind: store.KindText,
		CreatedAt: time.Now(),
	})
	require.Eventually(t, func() bool {
		c := client.Conversations()[0]
		return c.ID == "A" && c.LastMessage != nil && c.LastMessage.ID == "m2"
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, client.TotalUnread())
	client.Leave()

	// Starting a conversation inserts it at the front.
	conv, err := client.StartConversation(ctx, "other-9", "", "job-3")
	require.NoError(t, err)
	require.Equal(t, "new-conv", conv.ID)
	require.Equal(t, "new-conv", client.Conversations()[0].ID)
}

// A drop triggers exactly one resync load once the channel is open again.
func TestClient_ResyncAfterReconnect(t *testing.T) {
	h := newHarness(t, true)

	client, err := New(h.cfg, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Run(ctx))

	// Initial load, then the dropped first socket forces a reconnect and a
	// single resync.
	require.Eventually(t, func() bool {
		return h.loads.Load() == 2 && client.ConnState() == store.StateOpen
	}, 3*time.Second, 10*time.Millisecond)

	// The snapshot replaced ordering; no error surfaced and the list is
	// intact.
	require.Equal(t, []string{"B", "A"}, convIDs(client.Conversations()))
	require.Equal(t, 2, client.TotalUnread())

	// No further loads happen once stable.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(2), h.loads.Load())
}

// A rejected token is fatal to Run and surfaces the channel auth error so
// the UI can ask the user to sign in again.
func TestClient_AuthRejectedIsFatal(t *testing.T) {
	h := newHarness(t, false)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer rejecting.Close()
	h.cfg.Channel.URL = "ws" + strings.TrimPrefix(rejecting.URL, "http")

	client, err := New(h.cfg, nil)
	require.NoError(t, err)
	defer client.Close()

	err = client.Run(context.Background())
	require.ErrorIs(t, err, channel.ErrChannelAuth)
	require.Equal(t, store.StateClosed, client.ConnState())
}

func convIDs(convs []store.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}
