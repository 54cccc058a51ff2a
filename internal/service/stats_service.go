package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/repository"
)

// DayLayout formats the day component of stats keys.
const DayLayout = "2006-01-02"

// Day returns the UTC calendar day of t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Aggregate groups sent and failed outcomes by (day, campaign). Outcomes with
// no campaign, and skipped or retrying outcomes, are not counted. Entries are
// sorted by key.
func Aggregate(outcomes []Outcome) []model.StatsEntry {
	groups := map[string]*model.StatsEntry{}
	for _, o := range outcomes {
		if o.CampaignID == "" {
			continue
		}
		var field string
		switch o.State {
		case StateSent:
			field = model.StatSent
		case StateFailed:
			field = model.StatFailed
		default:
			continue
		}
		day := Day(o.At)
		key := model.StatsKey(day, o.CampaignID)
		entry, ok := groups[key]
		if !ok {
			entry = &model.StatsEntry{Key: key, CampaignID: o.CampaignID, Day: day}
			groups[key] = entry
		}
		entry.Add(field, 1)
	}

	entries := make([]model.StatsEntry, 0, len(groups))
	for _, e := range groups {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// StatsService persists per-day per-campaign counters.
type StatsService struct {
	StatsRepo repository.StatsRepositoryInterface
	Logger    *slog.Logger
}

// Flush upserts every entry, continuing past failures. The returned error
// joins all failures.
func (s *StatsService) Flush(ctx context.Context, entries []model.StatsEntry) error {
	var errs []error
	for _, e := range entries {
		if e.Key == "" {
			e.Key = model.StatsKey(e.Day, e.CampaignID)
		}
		if _, err := s.StatsRepo.Upsert(ctx, e); err != nil {
			s.Logger.Error("failed to upsert stats",
				"component", "stats",
				"key", e.Key,
				"error", err)
			errs = append(errs, fmt.Errorf("stats %s: %w", e.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Increment adds one to a single counter.
func (s *StatsService) Increment(ctx context.Context, campaignID string, at time.Time, field string) error {
	if campaignID == "" {
		return nil
	}
	day := Day(at)
	entry := model.StatsEntry{Key: model.StatsKey(day, campaignID), CampaignID: campaignID, Day: day}
	entry.Add(field, 1)
	if _, err := s.StatsRepo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to increment %s for campaign %s: %w", field, campaignID, err)
	}
	return nil
}
