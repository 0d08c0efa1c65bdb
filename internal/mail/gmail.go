package mail

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

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

const gmailAPI = "https://gmail.googleapis.com/gmail/v1"

// Client talks to the Gmail REST API for the authenticated user.
type Client struct {
	Tokens     *TokenSource
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(tokens *TokenSource) *Client {
	return &Client{
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type sendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type sendResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
}

type fullMessage struct {
	ID           string      `json:"id"`
	ThreadID     string      `json:"threadId"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

type messagePart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePart `json:"parts"`
}

// Send delivers one message. Failures come back as *DeliveryError.
func (c *Client) Send(ctx context.Context, m Message) (*SendResult, error) {
	body := sendRequest{Raw: buildRaw(m), ThreadID: m.ThreadID}
	var resp sendResponse
	if err := c.call(ctx, http.MethodPost, "/users/me/messages/send", body, &resp); err != nil {
		return nil, &DeliveryError{Op: "send", Err: err}
	}
	return &SendResult{MessageID: resp.ID, ThreadID: resp.ThreadID}, nil
}

// UnreadReplies lists unread inbox messages whose subject carries our
// prefix, newest first as Gmail returns them, with plain-text bodies
// extracted. A message whose fetch fails comes back as a *FetchError and
// stays unread for the next run; the healthy ones still return. Only a
// failed listing covers the whole batch.
func (c *Client) UnreadReplies(ctx context.Context, subjectPrefix string, max int) ([]domain.Reply, []error) {
	if max < 1 {
		max = 10
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf(`in:inbox is:unread subject:"%s"`, subjectPrefix))
	q.Set("maxResults", strconv.Itoa(max))

	var list listResponse
	if err := c.call(ctx, http.MethodGet, "/users/me/messages?"+q.Encode(), nil, &list); err != nil {
		return nil, []error{fmt.Errorf("list replies: %w", err)}
	}

	var (
		replies []domain.Reply
		errs    []error
	)
	for _, msg := range list.Messages {
		var full fullMessage
		if err := c.call(ctx, http.MethodGet, "/users/me/messages/"+msg.ID+"?format=full", nil, &full); err != nil {
			errs = append(errs, &FetchError{MessageID: msg.ID, Err: err})
			continue
		}
		replies = append(replies, domain.Reply{
			MessageID:  full.ID,
			ThreadID:   full.ThreadID,
			From:       header(full.Payload, "From"),
			Subject:    header(full.Payload, "Subject"),
			Body:       extractBody(full.Payload),
			ReceivedAt: internalDate(full.InternalDate),
		})
	}
	return replies, errs
}

// MarkRead removes the UNREAD label so the reply is never fetched again.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	body := map[string][]string{"removeLabelIds": {"UNREAD"}}
	if err := c.call(ctx, http.MethodPost, "/users/me/messages/"+messageID+"/modify", body, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	token, err := c.Tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	base := c.BaseURL
	if base == "" {
		base = gmailAPI
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gmail api (status %d): %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func header(p messagePart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody walks the MIME tree depth-first and returns the first
// text/plain part. Simple messages keep the body at the top level.
func extractBody(p messagePart) string {
	if p.MimeType == "text/plain" && p.Body.Data != "" {
		if s, err := decodeBody(p.Body.Data); err == nil {
			return s
		}
	}
	for _, part := range p.Parts {
		if s := extractBody(part); s != "" {
			return s
		}
	}
	if len(p.Parts) == 0 && p.Body.Data != "" {
		if s, err := decodeBody(p.Body.Data); err == nil {
			return s
		}
	}
	return ""
}

func internalDate(ms string) string {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return ""
	}
	return time.UnixMilli(n).UTC().Format(time.RFC3339)
}
