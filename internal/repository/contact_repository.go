package repository

import (
	"context"

	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

// ContactRepositoryInterface defines methods used by the queue reader
type ContactRepositoryInterface interface {
	ListAll(ctx context.Context) (map[string]*model.Contact, error)
}

type ContactRepository struct {
	Store store.Store
}

var contactColumns = map[string]bool{
	"email": true, "first_name": true, "last_name": true, "company": true, "title": true,
}

// ListAll fetches every contact keyed by normalized email. Columns beyond the
// fixed ones become custom personalization fields.
func (r *ContactRepository) ListAll(ctx context.Context) (map[string]*model.Contact, error) {
	rows, err := r.Store.ReadTable(ctx, store.TableContacts)
	if err != nil {
		return nil, err
	}

	contacts := make(map[string]*model.Contact, len(rows))
	for _, row := range rows {
		c := &model.Contact{
			Email:     store.String(row, "email"),
			FirstName: store.String(row, "first_name"),
			LastName:  store.String(row, "last_name"),
			Company:   store.String(row, "company"),
			Title:     store.String(row, "title"),
			Fields:    map[string]string{},
		}
		for k := range row {
			if !contactColumns[k] {
				c.Fields[k] = store.String(row, k)
			}
		}
		if c.Email == "" {
			continue
		}
		contacts[model.NormalizeAddress(c.Email)] = c
	}
	return contacts, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
