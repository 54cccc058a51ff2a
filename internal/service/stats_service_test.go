package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

func TestAggregate(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)
	day2 := day1.Add(time.Hour)

	entries := Aggregate([]Outcome{
		{CampaignID: "c1", State: StateSent, At: day1},
		{CampaignID: "c1", State: StateSent, At: day1},
		{CampaignID: "c1", State: StateFailed, At: day1},
		{CampaignID: "c1", State: StateSent, At: day2},
		{CampaignID: "c2", State: StateSkipped, At: day1},
		{CampaignID: "c2", State: StateRetrying, At: day1},
		{CampaignID: "", State: StateSent, At: day1},
	})

	require.Len(t, entries, 2)
	assert.Equal(t, "2026-03-02:c1", entries[0].Key)
	assert.Equal(t, 2, entries[0].Sent)
	assert.Equal(t, 1, entries[0].Failed)
	assert.Equal(t, "2026-03-03:c1", entries[1].Key)
	assert.Equal(t, 1, entries[1].Sent)
}

func TestFlushUpserts(t *testing.T) {
	st := store.NewMemoryStore()
	repo := &repository.StatsRepository{Store: st}
	svc := &StatsService{StatsRepo: repo, Logger: logging.Discard()}
	ctx := context.Background()

	entry := model.StatsEntry{Key: "2026-03-02:c1", CampaignID: "c1", Day: "2026-03-02", Sent: 2}
	require.NoError(t, svc.Flush(ctx, []model.StatsEntry{entry}))
	require.NoError(t, svc.Flush(ctx, []model.StatsEntry{entry}))
	require.NoError(t, svc.Increment(ctx, "c1", epoch, model.StatOpened))

	got, err := repo.Get(ctx, "2026-03-02:c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Sent)
	assert.Equal(t, 1, got.Opened)

	rows, err := st.ReadTable(ctx, store.TableStats)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFlushReportsFailures(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetError(store.TableStats, errors.New("quota"))
	svc := &StatsService{StatsRepo: &repository.StatsRepository{Store: st}, Logger: logging.Discard()}

	err := svc.Flush(context.Background(), []model.StatsEntry{
		{CampaignID: "c1", Day: "2026-03-02", Sent: 1},
		{CampaignID: "c2", Day: "2026-03-02", Sent: 1},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "c1")
	assert.Contains(t, err.Error(), "c2")
}
