package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mixerSync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS mirror_events (
	seq            BIGSERIAL PRIMARY KEY,
	network        TEXT   NOT NULL,
	kind           TEXT   NOT NULL,
	currency       TEXT   NOT NULL,
	amount         TEXT   NOT NULL,
	block_number   BIGINT NOT NULL,
	tx_hash        TEXT,
	identity       TEXT,
	commitment     TEXT,
	leaf_index     BIGINT,
	event_ts       BIGINT,
	nullifier_hash TEXT,
	recipient      TEXT,
	fee            TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS mirror_events_identity
	ON mirror_events (network, kind, currency, amount, identity)
	WHERE identity IS NOT NULL;
CREATE INDEX IF NOT EXISTS mirror_events_key
	ON mirror_events (network, kind, currency, amount, seq);
`

// Store mirrors events in Postgres. Appends for one key are serialized with
// a transaction-scoped advisory lock, so several processes may share a
// database.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the mirror table and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Load returns the records for key in append order.
func (s *Store) Load(ctx context.Context, key model.CacheKey) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT block_number, COALESCE(tx_hash, ''), COALESCE(commitment, ''), COALESCE(leaf_index, 0),
			COALESCE(event_ts, 0), COALESCE(nullifier_hash, ''), COALESCE(recipient, ''), COALESCE(fee, '')
		FROM mirror_events
		WHERE network = $1 AND kind = $2 AND currency = $3 AND amount = $4
		ORDER BY seq
	`, key.Network, string(key.Kind), key.Currency, key.Amount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var (
			event     model.Event
			block     int64
			leafIndex int64
			timestamp int64
		)
		if err := rows.Scan(&block, &event.TransactionHash, &event.Commitment, &leafIndex, &timestamp,
			&event.NullifierHash, &event.To, &event.Fee); err != nil {
			return nil, fmt.Errorf("%w: scan mirror row: %v", model.ErrDataCorrupt, err)
		}
		if block < 0 || leafIndex < 0 || leafIndex > int64(^uint32(0)) || timestamp < 0 {
			return nil, fmt.Errorf("%w: negative or oversized column for %s", model.ErrDataCorrupt, key)
		}
		event.BlockNumber = uint64(block)
		event.LeafIndex = uint32(leafIndex)
		event.Timestamp = uint64(timestamp)
		events = append(events, event)
	}
	return events, rows.Err()
}

// Append inserts events; records whose identity already exists are ignored.
func (s *Store) Append(ctx context.Context, key model.CacheKey, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
			return fmt.Errorf("lock key: %w", err)
		}

		batch := &pgx.Batch{}
		for _, event := range events {
			batch.Queue(`
				INSERT INTO mirror_events (
					network, kind, currency, amount, block_number, tx_hash, identity,
					commitment, leaf_index, event_ts, nullifier_hash, recipient, fee
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
				ON CONFLICT (network, kind, currency, amount, identity) WHERE identity IS NOT NULL
				DO NOTHING
			`,
				key.Network,
				string(key.Kind),
				key.Currency,
				key.Amount,
				int64(event.BlockNumber),
				nullable(event.TransactionHash),
				nullable(event.Identity()),
				nullable(event.Commitment),
				depositInt(event, int64(event.LeafIndex)),
				depositInt(event, int64(event.Timestamp)),
				nullable(event.NullifierHash),
				nullable(event.To),
				nullable(event.Fee),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range events {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
}

// Reset deletes every record for key.
func (s *Store) Reset(ctx context.Context, key model.CacheKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM mirror_events WHERE network = $1 AND kind = $2 AND currency = $3 AND amount = $4
	`, key.Network, string(key.Kind), key.Currency, key.Amount)
	return err
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func depositInt(event model.Event, value int64) *int64 {
	if !event.IsDeposit() {
		return nil
	}
	return &value
}
