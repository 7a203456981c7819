// Package notify delivers rendered invoices by email.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Attachment is a named binary file sent with a message.
type Attachment struct {
	Name    string
	Content []byte
}

// Message is one email, sent separately to each of its recipients.
type Message struct {
	To         []string
	Subject    string
	Text       string
	Attachment Attachment
}

// Receipt identifies the accepted messages at the provider, one per
// recipient. ID is the first of them.
type Receipt struct {
	ID  string
	IDs []string
}

// ResendSender sends through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY must be set")
	}
	if from == "" {
		return nil, fmt.Errorf("FROM_EMAIL must be set")
	}
	return &ResendSender{client: resend.NewClient(apiKey), from: from}, nil
}

// Send mails msg to each recipient on its own so no recipient sees the
// others' addresses. It stops at the first rejected request; recipients
// before it have already received the message.
func (s *ResendSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	to := Recipients(msg.To)
	if len(to) == 0 {
		return Receipt{}, fmt.Errorf("message %q has no recipients", msg.Subject)
	}

	var attachments []*resend.Attachment
	if len(msg.Attachment.Content) > 0 {
		attachments = []*resend.Attachment{{
			Content:  msg.Attachment.Content,
			Filename: msg.Attachment.Name,
		}}
	}
	body := textToHTML(msg.Text)

	var receipt Receipt
	for _, addr := range to {
		sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
			From:        s.from,
			To:          []string{addr},
			Subject:     msg.Subject,
			Text:        msg.Text,
			Html:        body,
			Attachments: attachments,
		})
		if err != nil {
			return receipt, fmt.Errorf("failed to send %q to %s via resend (%d of %d sent): %w",
				msg.Subject, addr, len(receipt.IDs), len(to), err)
		}
		if receipt.ID == "" {
			receipt.ID = sent.Id
		}
		receipt.IDs = append(receipt.IDs, sent.Id)
	}
	return receipt, nil
}

// Recipients trims addresses and drops blanks and duplicates.
func Recipients(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func textToHTML(text string) string {
	var sb strings.Builder
	for _, para := range strings.Split(text, "\n\n") {
		sb.WriteString("<p>")
		sb.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		sb.WriteString("</p>")
	}
	return sb.String()
}
