package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/rewards"
)

const (
	rewardStateName = "reward"
	oracleStateName = "oracle"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate runs a schema script, typically migrations/001_create_ledger.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) SaveRewardState(ctx context.Context, s rewards.State) error {
	return p.save(ctx, rewardStateName, s)
}

func (p *PostgresStore) LoadRewardState(ctx context.Context) (rewards.State, error) {
	var s rewards.State
	err := p.load(ctx, rewardStateName, &s)
	return s, err
}

func (p *PostgresStore) SaveOracleState(ctx context.Context, s carbon.State) error {
	return p.save(ctx, oracleStateName, s)
}

func (p *PostgresStore) LoadOracleState(ctx context.Context) (carbon.State, error) {
	var s carbon.State
	err := p.load(ctx, oracleStateName, &s)
	return s, err
}

func (p *PostgresStore) save(ctx context.Context, name string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", name, err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO ledger_state(name, payload, updated_at) VALUES($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, name, b)
	return err
}

func (p *PostgresStore) load(ctx context.Context, name string, out interface{}) error {
	var b []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM ledger_state WHERE name = $1`, name).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("storage: decode %s: %w", name, err)
	}
	return nil
}

// ReplaySet returns a replay guard backed by the used_transaction_ids table.
// The primary key makes Consume atomic across every process sharing the
// database.
func (p *PostgresStore) ReplaySet() *PostgresReplaySet {
	return &PostgresReplaySet{db: p.db}
}

func (p *PostgresStore) Cursors() *PostgresCursors {
	return &PostgresCursors{db: p.db}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type PostgresReplaySet struct {
	db *sql.DB
}

func (r *PostgresReplaySet) Consume(ctx context.Context, id models.TxID) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO used_transaction_ids(tx_id, consumed_at) VALUES($1, now())
		ON CONFLICT (tx_id) DO NOTHING`, id.Bytes())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rewards.ErrDuplicateTransactionID
	}
	return nil
}

func (r *PostgresReplaySet) Release(ctx context.Context, id models.TxID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM used_transaction_ids WHERE tx_id = $1`, id.Bytes())
	return err
}

func (r *PostgresReplaySet) Contains(ctx context.Context, id models.TxID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM used_transaction_ids WHERE tx_id = $1)`, id.Bytes()).Scan(&exists)
	return exists, err
}
