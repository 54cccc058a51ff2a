package repository

import (
	"context"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

type StatsRepositoryInterface interface {
	Get(ctx context.Context, key string) (*model.StatsEntry, error)
	Upsert(ctx context.Context, delta model.StatsEntry) (*model.StatsEntry, error)
}

// StatsRepository stores per-day per-campaign counters keyed by "day:campaign".
type StatsRepository struct {
	Store store.Store
}

// Get returns nil, nil when no row exists for key.
func (r *StatsRepository) Get(ctx context.Context, key string) (*model.StatsEntry, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableStats, store.Eq("key", key))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	entry := &model.StatsEntry{
		Key:        store.String(row, "key"),
		CampaignID: store.String(row, "campaign_id"),
		Day:        store.String(row, "day"),
	}
	for _, f := range model.StatFields {
		entry.Add(f, store.Int(row, f))
	}
	return entry, nil
}

// Upsert adds delta's counters to the existing row, or appends delta as a new row.
// Read-modify-write: concurrent writers to the same key can lose increments.
func (r *StatsRepository) Upsert(ctx context.Context, delta model.StatsEntry) (*model.StatsEntry, error) {
	if delta.Key == "" {
		delta.Key = model.StatsKey(delta.Day, delta.CampaignID)
	}
	current, err := r.Get(ctx, delta.Key)
	if err != nil {
		return nil, err
	}

	if current == nil {
		row := store.Row{"key": delta.Key, "campaign_id": delta.CampaignID, "day": delta.Day}
		for f, n := range delta.Counters() {
			row[f] = n
		}
		if err := r.Store.AppendRows(ctx, store.TableStats, []store.Row{row}); err != nil {
			return nil, err
		}
		return &delta, nil
	}

	patch := store.Row{}
	for f, n := range delta.Counters() {
		current.Add(f, n)
	}
	for f, n := range current.Counters() {
		patch[f] = n
	}
	if _, err := r.Store.UpdateRow(ctx, store.TableStats, "key", delta.Key, patch); err != nil {
		return nil, err
	}
	return current, nil
}

var _ StatsRepositoryInterface = (*StatsRepository)(nil)
