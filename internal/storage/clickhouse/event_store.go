package clickhouse

import (
	"context"
	"fmt"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
// MergeTree does not enforce uniqueness, so the key is checked before insert.
func (s *EventStore) Insert(ctx context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			event_id, kind, lobbyist, escrow, depositor, market,
			base_amount, quote_amount, base_after, quote_after, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		e.EventID, string(e.Kind),
		e.Lobbyist.String(), e.Escrow.String(), e.Depositor.String(), string(e.Market),
		e.BaseAmount, e.QuoteAmount, e.BaseAfter, e.QuoteAfter, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByEscrow retrieves all events for an escrow, ordered by timestamp ASC.
func (s *EventStore) GetByEscrow(ctx context.Context, escrow solana.Pubkey) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT event_id, kind, lobbyist, escrow, depositor, market,
			base_amount, quote_amount, base_after, quote_after, timestamp
		FROM ledger_events FINAL
		WHERE escrow = ?
		ORDER BY timestamp ASC, inserted_at ASC
	`

	rows, err := s.conn.Query(ctx, query, escrow.String())
	if err != nil {
		return nil, fmt.Errorf("query by escrow: %w", err)
	}
	defer rows.Close()

	return scanLedgerEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT event_id, kind, lobbyist, escrow, depositor, market,
			base_amount, quote_amount, base_after, quote_after, timestamp
		FROM ledger_events FINAL
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, inserted_at ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanLedgerEvents(rows)
}

// exists checks if an event with the given id exists.
func (s *EventStore) exists(ctx context.Context, eventID string) (bool, error) {
	query := `SELECT count(*) FROM ledger_events WHERE event_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, eventID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanLedgerEvents scans multiple rows.
func scanLedgerEvents(rows chRows) ([]*domain.LedgerEvent, error) {
	var events []*domain.LedgerEvent

	for rows.Next() {
		var (
			e                           domain.LedgerEvent
			kind, market                string
			lobbyist, escrow, depositor string
		)
		err := rows.Scan(
			&e.EventID, &kind, &lobbyist, &escrow, &depositor, &market,
			&e.BaseAmount, &e.QuoteAmount, &e.BaseAfter, &e.QuoteAfter, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		e.Market = domain.Market(market)

		for _, f := range []struct {
			src string
			dst *solana.Pubkey
		}{
			{lobbyist, &e.Lobbyist},
			{escrow, &e.Escrow},
			{depositor, &e.Depositor},
		} {
			key, err := solana.ParsePubkey(f.src)
			if err != nil {
				return nil, fmt.Errorf("parse ledger event address: %w", err)
			}
			*f.dst = key
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}

	return events, nil
}
