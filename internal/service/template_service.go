// internal/service/template_service.go
package service

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/transport"
)

// tokenPattern matches {name} and {name|fallback}.
var tokenPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)(?:\|([^{}]*))?\}`)

// RenderTemplate substitutes {token} placeholders from data. A token with no
// value takes its |fallback, or renders empty.
func RenderTemplate(template string, data map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		parts := tokenPattern.FindStringSubmatch(match)
		if v := strings.TrimSpace(data[strings.ToLower(parts[1])]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Personalizer turns a queued message into a transport message for one contact.
type Personalizer struct {
	FromAddress    string
	ReplyTo        string
	UnsubscribeURL string

	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func NewPersonalizer(fromAddress, replyTo, unsubscribeURL string) *Personalizer {
	return &Personalizer{
		FromAddress:    fromAddress,
		ReplyTo:        replyTo,
		UnsubscribeURL: unsubscribeURL,
		md:             goldmark.New(),
		policy:         bluemonday.UGCPolicy(),
	}
}

// Personalize renders subject and body. Campaign and contact may be nil.
func (p *Personalizer) Personalize(msg *model.QueuedMessage, campaign *model.Campaign, contact *model.Contact) (transport.Message, error) {
	tokens := contact.Tokens()
	if tokens["email"] == "" {
		tokens["email"] = msg.Recipient
	}

	subject := strings.TrimSpace(RenderTemplate(msg.Subject, tokens))
	text := RenderTemplate(msg.Body, tokens)

	var html bytes.Buffer
	if err := p.md.Convert([]byte(text), &html); err != nil {
		return transport.Message{}, fmt.Errorf("failed to render body for message %s: %w", msg.ID, err)
	}

	out := transport.Message{
		To:       msg.Recipient,
		From:     p.FromAddress,
		ReplyTo:  p.ReplyTo,
		Subject:  subject,
		TextBody: text,
		HTMLBody: p.policy.Sanitize(html.String()),
		Headers:  map[string]string{},
		Tags: map[string]string{
			"message_id":    msg.ID,
			"sequence_step": strconv.Itoa(msg.SequenceStep),
		},
	}
	if campaign != nil {
		out.Tags["campaign_id"] = campaign.ID
		if campaign.FromAddress != "" {
			out.From = campaign.FromAddress
		}
		if campaign.ReplyTo != "" {
			out.ReplyTo = campaign.ReplyTo
		}
	}
	if p.UnsubscribeURL != "" {
		out.Headers["List-Unsubscribe"] = "<" + unsubscribeLink(p.UnsubscribeURL, msg.Recipient) + ">"
		out.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}
	return out, nil
}

func unsubscribeLink(base, recipient string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("email", model.NormalizeAddress(recipient))
	u.RawQuery = q.Encode()
	return u.String()
}
