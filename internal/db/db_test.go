package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

func TestSchemaCoversStoreTables(t *testing.T) {
	ddl := Schema()
	for _, table := range []string{
		store.TableQueue,
		store.TableCampaigns,
		store.TableContacts,
		store.TableSuppressions,
		store.TableStats,
		store.TableLogs,
	} {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", DefaultOptions(), logging.Discard())
	require.Error(t, err)
}
