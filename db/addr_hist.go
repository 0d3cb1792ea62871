package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddrHist records one subscribed address's state delta at one block:
// the stored info before the block and the refreshed info after it.
// Mined marks the block's own miner row.
type AddrHist struct {
	PKID    int64
	BlockPK int64
	AddrPK  int64
	InfoOld JSONMap
	InfoNew JSONMap
	Mined   bool
}

const addrHistCols = `pkid, block_pk, addr_pk, info_old, info_new, mined`

func scanAddrHist(row pgx.Row) (*AddrHist, error) {
	var h AddrHist
	err := row.Scan(&h.PKID, &h.BlockPK, &h.AddrPK, &h.InfoOld, &h.InfoNew, &h.Mined)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: scan addr_hist: %w", err)
	}
	return &h, nil
}

func (s *Store) InsertAddrHist(ctx context.Context, h *AddrHist) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO addr_hist (block_pk, addr_pk, info_old, info_new, mined)
		 VALUES ($1, $2, $3, $4, $5) RETURNING pkid`,
		h.BlockPK, h.AddrPK, jsonOrEmpty(h.InfoOld), jsonOrEmpty(h.InfoNew), h.Mined,
	).Scan(&h.PKID)
	if err != nil {
		return fmt.Errorf("db: insert addr_hist block=%d addr=%d: %w", h.BlockPK, h.AddrPK, err)
	}
	return nil
}

func (s *Store) AddrHistByPK(ctx context.Context, pkid int64) (*AddrHist, error) {
	return scanAddrHist(s.q.QueryRow(ctx,
		`SELECT `+addrHistCols+` FROM addr_hist WHERE pkid = $1`, pkid))
}

// HistByBlock lists the block's history rows in insertion order.
func (s *Store) HistByBlock(ctx context.Context, blockPK int64) ([]*AddrHist, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+addrHistCols+` FROM addr_hist WHERE block_pk = $1 ORDER BY pkid`, blockPK)
	if err != nil {
		return nil, fmt.Errorf("db: hist by block %d: %w", blockPK, err)
	}
	defer rows.Close()

	var out []*AddrHist
	for rows.Next() {
		var h AddrHist
		if err := rows.Scan(&h.PKID, &h.BlockPK, &h.AddrPK, &h.InfoOld, &h.InfoNew, &h.Mined); err != nil {
			return nil, fmt.Errorf("db: hist by block scan: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// UpdateAddrHistInfo writes back rotated info documents after the
// owning block matures.
func (s *Store) UpdateAddrHistInfo(ctx context.Context, h *AddrHist) error {
	_, err := s.q.Exec(ctx,
		`UPDATE addr_hist SET info_old = $2, info_new = $3 WHERE pkid = $1`,
		h.PKID, jsonOrEmpty(h.InfoOld), jsonOrEmpty(h.InfoNew))
	if err != nil {
		return fmt.Errorf("db: update addr_hist %d: %w", h.PKID, err)
	}
	return nil
}

// HistForAddrAtBlock returns the single delta an address has at a block,
// nil when the address was untouched there.
func (s *Store) HistForAddrAtBlock(ctx context.Context, blockPK, addrPK int64) (*AddrHist, error) {
	return scanAddrHist(s.q.QueryRow(ctx,
		`SELECT `+addrHistCols+` FROM addr_hist WHERE block_pk = $1 AND addr_pk = $2`,
		blockPK, addrPK))
}
