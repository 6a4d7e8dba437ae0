package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/qmuntal/stateless"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/config"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/logger"
	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

// ErrChannelAuth means the server rejected the token at connect time. The
// channel stays closed until the caller re-authenticates and retries.
var ErrChannelAuth = errors.New("channel authentication rejected")

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = 30 * time.Second
)

// FSM states mirror the connection lifecycle. They are not persisted.
type fsmState stateless.State

var (
	stateConnecting   fsmState = "connecting"
	stateOpen         fsmState = "open"
	stateReconnecting fsmState = "reconnecting"
	stateClosed       fsmState = "closed"
)

type fsmTrigger stateless.Trigger

var (
	triggerDial      fsmTrigger = "Dial"
	triggerHandshake fsmTrigger = "HandshakeOK"
	triggerDrop      fsmTrigger = "Drop"
	triggerClose     fsmTrigger = "Close"
)

// envelope is the wire format of server-pushed events. Unknown types are
// ignored so the server can add event kinds without breaking old clients.
type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// Handler receives inbound message events, once each, in server order.
type Handler func(store.Message)

// StateHandler observes connection state transitions.
type StateHandler func(store.ConnState)

// Channel maintains exactly one authenticated persistent connection per
// session. It redials with bounded exponential backoff after unexpected
// drops but never buffers or replays events missed during the gap; the
// store's resync path covers those.
type Channel struct {
	SessionID string

	cfg    config.ChannelConfig
	dialer *websocket.Dialer
	fsm    *stateless.StateMachine

	mu        sync.Mutex
	conn      *websocket.Conn
	token     string
	handlers  []Handler
	observers []StateHandler

	done chan struct{}
	once sync.Once

	// closeCtx cancels any in-flight reconnect dial when Close is called.
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// New creates a Channel. Register handlers before calling Open.
func New(cfg config.ChannelConfig) *Channel {
	ch := &Channel{
		SessionID: uuid.NewString(),
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		done:      make(chan struct{}),
	}
	ch.closeCtx, ch.closeCancel = context.WithCancel(context.Background())

	fsm := stateless.NewStateMachine(stateClosed)
	fsm.Configure(stateClosed).
		Permit(triggerDial, stateConnecting)
	fsm.Configure(stateConnecting).
		Permit(triggerHandshake, stateOpen).
		Permit(triggerClose, stateClosed)
	fsm.Configure(stateOpen).
		Permit(triggerDrop, stateReconnecting).
		Permit(triggerClose, stateClosed)
	fsm.Configure(stateReconnecting).
		Permit(triggerHandshake, stateOpen).
		Permit(triggerClose, stateClosed)
	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		ch.notify(toConnState(t.Destination))
	})
	ch.fsm = fsm

	return ch
}

// OnMessage registers a handler invoked once per inbound message event, in
// the order the server delivered them.
func (ch *Channel) OnMessage(h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = append(ch.handlers, h)
}

// OnStateChange registers an observer of connection state transitions.
func (ch *Channel) OnStateChange(h StateHandler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.observers = append(ch.observers, h)
}

// State returns the current connection state.
func (ch *Channel) State() store.ConnState {
	return toConnState(ch.fsm.MustState())
}

// Open establishes the connection using the given bearer token. It returns
// ErrChannelAuth if the server rejects the token; on success the read and
// keepalive loops run until a drop or Close.
func (ch *Channel) Open(ctx context.Context, token string) error {
	ch.mu.Lock()
	ch.token = token
	ch.mu.Unlock()

	ch.fire(triggerDial)
	conn, err := ch.dial(ctx)
	if err != nil {
		ch.fire(triggerClose)
		return err
	}

	ch.attach(conn)
	ch.fire(triggerHandshake)
	logger.L.Info("event channel open", "session_id", ch.SessionID)
	return nil
}

// Close releases the connection and cancels any reconnect loop. Idempotent.
func (ch *Channel) Close() {
	ch.once.Do(func() {
		close(ch.done)
		ch.closeCancel()
		ch.mu.Lock()
		conn := ch.conn
		ch.conn = nil
		ch.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
				time.Now().Add(writeWait))
			_ = conn.Close()
		}
		ch.fire(triggerClose)
	})
}

func (ch *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	ch.mu.Lock()
	header.Set("Authorization", "Bearer "+ch.token)
	ch.mu.Unlock()

	grace := ch.cfg.HandshakeGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	conn, resp, err := ch.dialer.DialContext(dctx, ch.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrChannelAuth, resp.StatusCode)
		}
		return nil, fmt.Errorf("channel dial: %w", err)
	}
	return conn, nil
}

func (ch *Channel) attach(conn *websocket.Conn) {
	ch.mu.Lock()
	ch.conn = conn
	ch.mu.Unlock()

	go ch.readLoop(conn)
	go ch.pingLoop(conn)
}

// readLoop delivers events to handlers until the connection fails. A single
// malformed event is logged and skipped; it never halts the stream.
func (ch *Channel) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
				return
			default:
			}
			logger.L.Warn("event channel dropped", "session_id", ch.SessionID, "error", err)
			ch.fire(triggerDrop)
			go ch.reconnectLoop()
			return
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.L.Warn("discarding malformed event envelope", "error", err)
			continue
		}
		if env.Type != "message" {
			logger.L.Debug("ignoring event type", "type", env.Type)
			continue
		}

		var msg store.Message
		if err := json.Unmarshal(env.Message, &msg); err != nil {
			logger.L.Warn("discarding malformed message event", "error", err)
			continue
		}

		ch.mu.Lock()
		handlers := append([]Handler(nil), ch.handlers...)
		ch.mu.Unlock()
		for _, h := range handlers {
			h(msg)
		}
	}
}

func (ch *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// reconnectLoop redials with exponential backoff after an unexpected drop.
// It stops on Close, on token rejection, or when the configured attempt
// budget is exhausted.
func (ch *Channel) reconnectLoop() {
	backoff := ch.cfg.MinBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := ch.cfg.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}

	for attempt := 1; ; attempt++ {
		select {
		case <-ch.done:
			return
		case <-time.After(backoff):
		}

		conn, err := ch.dial(ch.closeCtx)
		if err == nil {
			// Close may have won the race while the dial was in flight; a
			// connection established after shutdown must not attach.
			select {
			case <-ch.done:
				_ = conn.Close()
				return
			default:
			}
			ch.attach(conn)
			ch.fire(triggerHandshake)
			logger.L.Info("event channel reconnected", "session_id", ch.SessionID, "attempt", attempt)
			return
		}
		select {
		case <-ch.done:
			return
		default:
		}
		if errors.Is(err, ErrChannelAuth) {
			logger.L.Error("token rejected during reconnect, channel closed", "error", err)
			ch.fire(triggerClose)
			return
		}
		if ch.cfg.MaxReconnects > 0 && attempt >= ch.cfg.MaxReconnects {
			logger.L.Error("reconnect attempts exhausted, channel closed", "attempts", attempt)
			ch.fire(triggerClose)
			return
		}

		logger.L.Warn("reconnect attempt failed", "attempt", attempt, "backoff", backoff, "error", err)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (ch *Channel) fire(trigger fsmTrigger) {
	if err := ch.fsm.Fire(trigger); err != nil {
		logger.L.Debug("ignored state transition", "trigger", trigger, "error", err)
	}
}

func (ch *Channel) notify(state store.ConnState) {
	ch.mu.Lock()
	observers := append([]StateHandler(nil), ch.observers...)
	ch.mu.Unlock()
	for _, h := range observers {
		h(state)
	}
}

func toConnState(s stateless.State) store.ConnState {
	switch s {
	case stateConnecting:
		return store.StateConnecting
	case stateOpen:
		return store.StateOpen
	case stateReconnecting:
		return store.StateReconnecting
	default:
		return store.StateClosed
	}
}
