package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/storage"
)

func TestEventStore_InsertAndGetByEscrow(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewEventStore(conn)

	events := []*domain.LedgerEvent{
		{
			EventID: "evt-2", Kind: domain.EventWithdraw,
			Lobbyist: key("lobbyist"), Escrow: key("escrow"), Depositor: key("alice"),
			BaseAmount: 250, QuoteAmount: 250, BaseAfter: 250, QuoteAfter: 250, Timestamp: 200,
		},
		{
			EventID: "evt-1", Kind: domain.EventDeposit,
			Lobbyist: key("lobbyist"), Escrow: key("escrow"), Depositor: key("alice"),
			BaseAmount: 500, QuoteAmount: 500, BaseAfter: 500, QuoteAfter: 500, Timestamp: 100,
		},
		{
			EventID: "evt-3", Kind: domain.EventTrade, Market: domain.MarketPass,
			Lobbyist: key("lobbyist"), Escrow: key("other"), Depositor: key("bob"),
			BaseAmount: 1<<64 - 1, Timestamp: 150,
		},
	}
	for _, e := range events {
		require.NoError(t, store.Insert(ctx, e))
	}

	got, err := store.GetByEscrow(ctx, key("escrow"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt-1", got[0].EventID)
	assert.Equal(t, domain.EventDeposit, got[0].Kind)
	assert.Equal(t, key("alice"), got[0].Depositor)
	assert.Equal(t, "evt-2", got[1].EventID)

	ranged, err := store.GetByTimeRange(ctx, 150, 200)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, domain.MarketPass, ranged[0].Market)
	assert.Equal(t, uint64(1<<64-1), ranged[0].BaseAmount)
}

func TestEventStore_DuplicateKey(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewEventStore(conn)

	e := &domain.LedgerEvent{EventID: "dup", Kind: domain.EventDeposit, Escrow: key("escrow")}
	require.NoError(t, store.Insert(ctx, e))
	assert.ErrorIs(t, store.Insert(ctx, e), storage.ErrDuplicateKey)
}
