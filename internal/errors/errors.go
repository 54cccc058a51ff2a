// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrCampaignNotFound is returned when a message references a campaign missing from the store.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// TransientProviderError is a retryable transport failure.
type TransientProviderError struct {
	Err error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

func NewTransientProviderError(err error) error {
	return &TransientProviderError{Err: err}
}

// PermanentProviderError is a terminal transport failure, e.g. an invalid address.
type PermanentProviderError struct {
	Err error
}

func (e *PermanentProviderError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentProviderError) Unwrap() error { return e.Err }

func NewPermanentProviderError(err error) error {
	return &PermanentProviderError{Err: err}
}

// RateLimitExceeded means a send window is full. It never counts as a delivery attempt.
type RateLimitExceeded struct {
	Recipient  string
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Recipient, e.RetryAfter)
}

func NewRateLimitExceeded(recipient string, retryAfter time.Duration) error {
	return &RateLimitExceeded{Recipient: recipient, RetryAfter: retryAfter}
}

// ConsentViolation means the recipient is on the suppression list.
type ConsentViolation struct {
	Recipient string
}

func (e *ConsentViolation) Error() string {
	return fmt.Sprintf("recipient %s is suppressed", e.Recipient)
}

func NewConsentViolation(recipient string) error {
	return &ConsentViolation{Recipient: recipient}
}

// CampaignNotApproved means the message's campaign may not send yet.
type CampaignNotApproved struct {
	CampaignID string
	Status     string
}

func (e *CampaignNotApproved) Error() string {
	return fmt.Sprintf("campaign %s is not approved (status %q)", e.CampaignID, e.Status)
}

func NewCampaignNotApproved(id, status string) error {
	return &CampaignNotApproved{CampaignID: id, Status: status}
}

// StoreUnavailable wraps any failure talking to the backing store.
type StoreUnavailable struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable: %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

func NewStoreUnavailable(op, table string, err error) error {
	return &StoreUnavailable{Op: op, Table: table, Err: err}
}

// ConfigurationError marks a misconfiguration the worker can run degraded with.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// IsRetryable reports whether err should drive a backoff retry.
func IsRetryable(err error) bool {
	var transient *TransientProviderError
	return errors.As(err, &transient)
}

// IsStoreUnavailable reports whether err came from the backing store.
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailable
	return errors.As(err, &se)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
