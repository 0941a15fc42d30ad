package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// MessageSummary is the listing view of a message.
type MessageSummary struct {
	ID       string
	ThreadID string
	From     string
	Subject  string
	Date     string
	Snippet  string
}

// Draft is an unsent message.
type Draft struct {
	To      []string
	Subject string
	Body    string
}

// Client wraps the Gmail Users service.
type Client struct {
	svc *gmail.UsersService
}

// NewClient creates a Gmail client. Authentication comes from opts,
// usually option.WithTokenSource.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return &Client{svc: svc.Users}, nil
}

// SearchMessages lists up to max messages matching query, newest first.
func (c *Client) SearchMessages(ctx context.Context, query string, max int64) ([]MessageSummary, error) {
	res, err := c.svc.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	summaries := make([]MessageSummary, 0, len(res.Messages))
	for _, m := range res.Messages {
		msg, err := c.svc.Messages.Get("me", m.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("failed to get message %s: %w", m.Id, err)
		}
		summaries = append(summaries, MessageSummary{
			ID:       msg.Id,
			ThreadID: msg.ThreadId,
			From:     HeaderValue(msg, "From"),
			Subject:  HeaderValue(msg, "Subject"),
			Date:     HeaderValue(msg, "Date"),
			Snippet:  msg.Snippet,
		})
	}
	return summaries, nil
}

// CreateDraft saves d as a draft and returns the draft id.
func (c *Client) CreateDraft(ctx context.Context, d *Draft) (string, error) {
	if d.Subject == "" && d.Body == "" {
		return "", fmt.Errorf("draft needs a subject or a body")
	}

	draft, err := c.svc.Drafts.Create("me", &gmail.Draft{
		Message: &gmail.Message{Raw: rawMessage(d)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create draft: %w", err)
	}
	return draft.Id, nil
}

// SendDraft sends a saved draft and returns the sent message id.
func (c *Client) SendDraft(ctx context.Context, draftID string) (string, error) {
	if draftID == "" {
		return "", fmt.Errorf("draft id is required")
	}
	msg, err := c.svc.Drafts.Send("me", &gmail.Draft{Id: draftID}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to send draft %s: %w", draftID, err)
	}
	return msg.Id, nil
}

// HeaderValue returns the first header called name, or "".
func HeaderValue(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// rawMessage renders d as a base64url RFC 2822 message.
func rawMessage(d *Draft) string {
	var b strings.Builder
	if len(d.To) > 0 {
		b.WriteString("To: ")
		b.WriteString(strings.Join(d.To, ", "))
		b.WriteString("\r\n")
	}
	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(d.Subject))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(d.Body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// encodeRFC2047 encodes non-ASCII header values such as umlauts in subjects.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}
