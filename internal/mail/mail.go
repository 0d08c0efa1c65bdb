package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beingSCK/work-journal-summarizer/internal/domain"
)

// DeliveryError wraps a failed send. Sends that fail after a draft was
// already mutated are reported, never rolled back.
type DeliveryError struct {
	Op  string
	Err error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("delivery %s: %v", e.Op, e.Err) }

func (e *DeliveryError) Unwrap() error { return e.Err }

// FetchError wraps one reply that could not be fetched. The message keeps
// its unread label, so the next run retries it; the rest of the batch
// still comes back.
type FetchError struct {
	MessageID string
	Err       error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch reply %s: %v", e.MessageID, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Message is one outgoing plain-text email. ThreadID keeps acknowledgments
// on the conversation the user replied to.
type Message struct {
	To       string
	From     string
	Subject  string
	Body     string
	ThreadID string
}

// SendResult carries the provider ids for the sent message.
type SendResult struct {
	MessageID string
	ThreadID  string
}

// Service is the mail boundary the passes depend on. UnreadReplies
// reports per-message failures as *FetchError values alongside the
// replies it did fetch, so one bad message never hides the rest.
type Service interface {
	Send(ctx context.Context, m Message) (*SendResult, error)
	UnreadReplies(ctx context.Context, subjectPrefix string, max int) ([]domain.Reply, []error)
	MarkRead(ctx context.Context, messageID string) error
}

// buildRaw renders the RFC 2822 form Gmail's send endpoint wants, base64url
// encoded.
func buildRaw(m Message) string {
	var sb strings.Builder
	sb.WriteString("To: " + m.To + "\r\n")
	sb.WriteString("From: " + m.From + "\r\n")
	sb.WriteString("Subject: " + m.Subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(m.Body)
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}

// decodeBody handles Gmail's base64url payloads with or without padding.
func decodeBody(data string) (string, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), nil
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
