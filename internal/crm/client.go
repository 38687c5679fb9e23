package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type ClientOptions struct {
	HTTP     *http.Client
	BaseURL  string
	APIToken string
}

// Client talks to a Front-style conversation API with bearer auth.
type Client struct {
	http     *http.Client
	baseURL  string
	apiToken string
}

func NewClient(opts ClientOptions) (*Client, error) {
	apiToken := strings.TrimSpace(opts.APIToken)
	if apiToken == "" {
		return nil, fmt.Errorf("crm api token is required")
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		return nil, fmt.Errorf("crm base url is required")
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		http:     httpClient,
		baseURL:  baseURL,
		apiToken: apiToken,
	}, nil
}

type wireConversation struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject,omitempty"`
	Status       string   `json:"status,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	AssigneeID   string   `json:"assignee_id,omitempty"`
	CreatedAt    float64  `json:"created_at,omitempty"`
	WaitingSince float64  `json:"waiting_since,omitempty"`
	Link         string   `json:"link,omitempty"`
}

type searchResponse struct {
	Conversations []wireConversation `json:"conversations"`
}

func (c *Client) SearchConversations(ctx context.Context, query string) ([]Conversation, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	body, status, err := c.do(ctx, http.MethodGet, "/conversations/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("crm search http %d", status)
	}
	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("crm search decode: %w", err)
	}
	conversations := make([]Conversation, 0, len(out.Conversations))
	for _, wire := range out.Conversations {
		conversations = append(conversations, fromWire(wire))
	}
	return conversations, nil
}

func (c *Client) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("conversation id is required")
	}
	payload := map[string]any{}
	if update.Status != nil {
		payload["status"] = string(*update.Status)
	}
	if update.AssigneeID != nil {
		payload["assignee_id"] = *update.AssigneeID
	}
	if len(payload) == 0 {
		return fmt.Errorf("conversation update is empty")
	}
	_, status, err := c.do(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), payload)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("crm update http %d", status)
	}
	return nil
}

func (c *Client) AddComment(ctx context.Context, id, body string) error {
	return c.postBody(ctx, id, "comments", body)
}

func (c *Client) CreateMessage(ctx context.Context, id, body string) error {
	return c.postBody(ctx, id, "messages", body)
}

func (c *Client) postBody(ctx context.Context, id, kind, body string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("conversation id is required")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("body is required")
	}
	_, status, err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/"+kind, map[string]any{"body": body})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("crm %s http %d", kind, status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	if c == nil || c.http == nil {
		return nil, 0, fmt.Errorf("crm client is not initialized")
	}
	const maxAttempts = 3
	var lastBody []byte
	var lastStatus int
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.once(ctx, method, path, payload)
		lastBody, lastStatus, lastErr = body, status, err
		if err == nil && (status < 500 && status != http.StatusTooManyRequests) {
			return body, status, nil
		}
		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, 0, err
		}
	}
	if lastErr != nil {
		return nil, 0, lastErr
	}
	return lastBody, lastStatus, nil
}

func (c *Client) once(ctx context.Context, method, path string, payload any) ([]byte, int, http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		default:
			return 1 * time.Second, true
		}
	case status == 0:
		// transport error, one quick retry is fine
		return 300 * time.Millisecond, true
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fromWire(wire wireConversation) Conversation {
	return Conversation{
		ID:           strings.TrimSpace(wire.ID),
		Subject:      strings.TrimSpace(wire.Subject),
		Status:       Status(strings.ToLower(strings.TrimSpace(wire.Status))),
		Tags:         append([]string(nil), wire.Tags...),
		AssigneeID:   strings.TrimSpace(wire.AssigneeID),
		CreatedAt:    unixToTime(wire.CreatedAt),
		WaitingSince: unixToTime(wire.WaitingSince),
		Link:         strings.TrimSpace(wire.Link),
	}
}

func unixToTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
