// Package idempotency fingerprints the fields that define an outreach message
// so a re-delivered queue item can be recognized as already sent.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

const sep = "\x1f"

// Fingerprint returns a stable hex digest of the defining fields.
func Fingerprint(campaignID string, sequenceStep int, recipient, subject, body string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		campaignID,
		strconv.Itoa(sequenceStep),
		model.NormalizeAddress(recipient),
		subject,
		body,
	}, sep)))
	return hex.EncodeToString(h.Sum(nil))
}

// ForMessage fingerprints a queued message.
func ForMessage(m *model.QueuedMessage) string {
	return Fingerprint(m.CampaignID, m.SequenceStep, m.Recipient, m.Subject, m.Body)
}

// AlreadySent reports whether m carries a provider id recorded against a key
// matching its current defining fields.
func AlreadySent(m *model.QueuedMessage) bool {
	return m.ProviderMessageID != "" && m.IdempotencyKey != "" && m.IdempotencyKey == ForMessage(m)
}
