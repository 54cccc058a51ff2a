package repository

import (
	"context"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

type CampaignRepositoryInterface interface {
	ListAll(ctx context.Context) (map[string]*model.Campaign, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// CampaignRepository is read-only: campaign authoring happens elsewhere.
type CampaignRepository struct {
	Store store.Store
}

// ListAll returns every campaign keyed by id.
func (r *CampaignRepository) ListAll(ctx context.Context) (map[string]*model.Campaign, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableCampaigns)
	if err != nil {
		return nil, err
	}
	campaigns := make(map[string]*model.Campaign, len(rows))
	for _, row := range rows {
		c := decodeCampaign(row)
		campaigns[c.ID] = c
	}
	return campaigns, nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableCampaigns, store.Eq("id", id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return decodeCampaign(rows[0]), nil
}

func decodeCampaign(row store.Row) *model.Campaign {
	return &model.Campaign{
		ID:             store.String(row, "id"),
		Name:           store.String(row, "name"),
		ApprovalStatus: store.String(row, "approval_status"),
		FromAddress:    store.String(row, "from_address"),
		ReplyTo:        store.String(row, "reply_to"),
	}
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
