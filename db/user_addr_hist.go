package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UserAddrHist snapshots one subscription's counters at the moment an
// address delta was recorded, before any mined-block credit. The
// snapshot is what fork rewind restores from.
type UserAddrHist struct {
	PKID       int64
	UserAddrPK int64
	AddrHistPK int64
	BlockT     *time.Time
	BlockC     int64
	Data       JSONMap
}

func (s *Store) InsertUserAddrHist(ctx context.Context, h *UserAddrHist) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO user_addr_hist (user_addr_pk, addr_hist_pk, block_t, block_c, data)
		 VALUES ($1, $2, $3, $4, $5) RETURNING pkid`,
		h.UserAddrPK, h.AddrHistPK, h.BlockT, h.BlockC, h.Data,
	).Scan(&h.PKID)
	if err != nil {
		return fmt.Errorf("db: insert user_addr_hist ua=%d ah=%d: %w", h.UserAddrPK, h.AddrHistPK, err)
	}
	return nil
}

// UserAddrHistByAddrHist lists the per-subscriber snapshots under one
// address delta.
func (s *Store) UserAddrHistByAddrHist(ctx context.Context, addrHistPK int64) ([]*UserAddrHist, error) {
	rows, err := s.q.Query(ctx,
		`SELECT pkid, user_addr_pk, addr_hist_pk, block_t, block_c, data
		 FROM user_addr_hist WHERE addr_hist_pk = $1 ORDER BY pkid`, addrHistPK)
	if err != nil {
		return nil, fmt.Errorf("db: user_addr_hist for %d: %w", addrHistPK, err)
	}
	return collectUserAddrHists(rows)
}

// UserAddrHistByBlock lists every per-subscriber snapshot under a
// block, joined through its address deltas. Used by fork rewind to put
// counters back before the block and its histories are dropped.
func (s *Store) UserAddrHistByBlock(ctx context.Context, blockPK int64) ([]*UserAddrHist, error) {
	rows, err := s.q.Query(ctx,
		`SELECT uah.pkid, uah.user_addr_pk, uah.addr_hist_pk, uah.block_t, uah.block_c, uah.data
		 FROM user_addr_hist uah
		 JOIN addr_hist ah ON ah.pkid = uah.addr_hist_pk
		 WHERE ah.block_pk = $1
		 ORDER BY uah.pkid`, blockPK)
	if err != nil {
		return nil, fmt.Errorf("db: user_addr_hist for block %d: %w", blockPK, err)
	}
	return collectUserAddrHists(rows)
}

func collectUserAddrHists(rows pgx.Rows) ([]*UserAddrHist, error) {
	defer rows.Close()
	var out []*UserAddrHist
	for rows.Next() {
		var h UserAddrHist
		if err := rows.Scan(&h.PKID, &h.UserAddrPK, &h.AddrHistPK, &h.BlockT, &h.BlockC, &h.Data); err != nil {
			return nil, fmt.Errorf("db: user_addr_hist scan: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// UserAddrHistForSub returns a page of the subscription's snapshot
// history, newest first. Limit <= 0 means no cap.
func (s *Store) UserAddrHistForSub(ctx context.Context, userAddrPK int64, limit int) ([]*UserAddrHist, error) {
	q := `SELECT pkid, user_addr_pk, addr_hist_pk, block_t, block_c, data
	      FROM user_addr_hist WHERE user_addr_pk = $1 ORDER BY pkid DESC`
	args := []any{userAddrPK}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db: user_addr_hist for sub %d: %w", userAddrPK, err)
	}
	return collectUserAddrHists(rows)
}
