package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/example/ride-rewards/internal/models"
)

var cursorPrefix = []byte("cursor/")

// LevelDBCursors keeps claim cursors next to the ledger state so they share
// its durability.
type LevelDBCursors struct {
	db *leveldb.DB
}

func cursorKey(recipient models.Address, class models.VehicleClass) []byte {
	k := make([]byte, 0, len(cursorPrefix)+len(recipient)+len(class))
	k = append(k, cursorPrefix...)
	k = append(k, recipient[:]...)
	return append(k, string(class)...)
}

func (c *LevelDBCursors) Get(_ context.Context, recipient models.Address, class models.VehicleClass) (uint64, error) {
	b, err := c.db.Get(cursorKey(recipient, class), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("storage: cursor %s/%s: %d bytes", recipient, class, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func (c *LevelDBCursors) Set(_ context.Context, recipient models.Address, class models.VehicleClass, meters uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], meters)
	return c.db.Put(cursorKey(recipient, class), b[:], syncWrite)
}

// PostgresCursors stores claim cursors in the claim_cursors table. Meters are
// NUMERIC so the full uint64 range fits.
type PostgresCursors struct {
	db *sql.DB
}

func (c *PostgresCursors) Get(ctx context.Context, recipient models.Address, class models.VehicleClass) (uint64, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT meters::TEXT FROM claim_cursors WHERE recipient = $1 AND vehicle_class = $2`,
		recipient[:], string(class)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (c *PostgresCursors) Set(ctx context.Context, recipient models.Address, class models.VehicleClass, meters uint64) error {
	_, err := c.db.ExecContext(ctx, `INSERT INTO claim_cursors(recipient, vehicle_class, meters, updated_at) VALUES($1, $2, $3::NUMERIC, now())
		ON CONFLICT (recipient, vehicle_class) DO UPDATE SET meters = EXCLUDED.meters, updated_at = EXCLUDED.updated_at`,
		recipient[:], string(class), strconv.FormatUint(meters, 10))
	return err
}
