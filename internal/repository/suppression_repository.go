package repository

import (
	"context"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

type SuppressionRepositoryInterface interface {
	IsSuppressed(ctx context.Context, addr string) (bool, error)
	Add(ctx context.Context, rec model.ConsentRecord) error
}

// SuppressionRepository reads and appends consent records. Addresses are
// stored normalized so lookups can filter on equality.
type SuppressionRepository struct {
	Store store.Store
}

func (r *SuppressionRepository) IsSuppressed(ctx context.Context, addr string) (bool, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableSuppressions,
		store.Eq("email", model.NormalizeAddress(addr)))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (r *SuppressionRepository) Add(ctx context.Context, rec model.ConsentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.Store.AppendRows(ctx, store.TableSuppressions, []store.Row{{
		"email":      model.NormalizeAddress(rec.Email),
		"reason":     rec.Reason,
		"source":     rec.Source,
		"created_at": rec.CreatedAt,
	}})
}

var _ SuppressionRepositoryInterface = (*SuppressionRepository)(nil)
