package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Cashkid12/Mkulima-net-sub003/internal/store"
)

var (
	// ErrLoad wraps network and server failures; callers retry on demand and
	// must not discard already-loaded state because of it.
	ErrLoad = errors.New("history load failed")
	// ErrUnauthorized means the bearer token was rejected; the caller must
	// re-authenticate via the identity provider.
	ErrUnauthorized = errors.New("history request unauthorized")
)

// Client talks to the request/response history API. It is used for the
// initial conversation snapshot, recovery after a channel drop, and lazy
// per-conversation message pages.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

// NewClient creates a history API client. The token comes from the identity
// provider and is attached to every call.
func NewClient(baseURL, token string, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Client{
		baseURL:  baseURL,
		token:    token,
		pageSize: pageSize,
		client:   &http.Client{},
	}
}

// ListConversations fetches one page of the server-sorted conversation
// list. The returned bool reports whether more pages exist.
func (c *Client) ListConversations(ctx context.Context, page int) ([]store.Conversation, bool, error) {
	url := fmt.Sprintf("%s/v1/conversations?page=%d&page_size=%d", c.baseURL, page, c.pageSize)

	var payload struct {
		Conversations []store.Conversation `json:"conversations"`
		HasMore       bool                 `json:"has_more"`
	}
	if err := c.get(ctx, url, &payload); err != nil {
		return nil, false, err
	}
	return payload.Conversations, payload.HasMore, nil
}

// ListMessages fetches one page of a conversation's message history.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page int) ([]store.Message, bool, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s/messages?page=%d&page_size=%d", c.baseURL, conversationID, page, c.pageSize)

	var payload struct {
		Messages []store.Message `json:"messages"`
		HasMore  bool            `json:"has_more"`
	}
	if err := c.get(ctx, url, &payload); err != nil {
		return nil, false, err
	}
	return payload.Messages, payload.HasMore, nil
}

// CreateConversation starts a conversation with a recipient, optionally
// linked to one product or one job (mutually exclusive, by id).
func (c *Client) CreateConversation(ctx context.Context, recipientID, productID, jobID string) (*store.Conversation, error) {
	if productID != "" && jobID != "" {
		return nil, fmt.Errorf("%w: conversation may reference a product or a job, not both", ErrLoad)
	}

	body, err := json.Marshal(struct {
		RecipientID string `json:"recipient_id"`
		ProductID   string `json:"product_id,omitempty"`
		JobID       string `json:"job_id,omitempty"`
	}{recipientID, productID, jobID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/conversations", bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	var conv store.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrLoad, err)
	}
	return &conv, nil
}

func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrLoad, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
}

func checkStatus(got int, want ...int) error {
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	if got == http.StatusUnauthorized || got == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrUnauthorized, got)
	}
	return fmt.Errorf("%w: unexpected status code: %d", ErrLoad, got)
}
