package service

import (
	"context"
	"log/slog"

	"github.com/unclebandit/outreach-delivery/internal/repository"
)

// ConsentService checks recipients against the suppression list.
type ConsentService struct {
	SuppressionRepo repository.SuppressionRepositoryInterface
	Logger          *slog.Logger
}

// IsAllowed reports whether addr may be sent to. A suppression lookup error
// allows the send and logs a warning.
func (s *ConsentService) IsAllowed(ctx context.Context, addr string) bool {
	suppressed, err := s.SuppressionRepo.IsSuppressed(ctx, addr)
	if err != nil {
		s.Logger.Warn("suppression list unavailable, allowing send",
			"component", "consent",
			"recipient", addr,
			"error", err)
		return true
	}
	return !suppressed
}
