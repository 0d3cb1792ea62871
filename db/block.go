package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MaturityConf is the confirmation count at which a block's address
// states are frozen and republished, and past which historyless blocks
// become garbage.
const MaturityConf = 501

// Block is a persisted block envelope. Info is the node's verbose block
// document minus the volatile confirmations field; Tx holds the
// explorer's enriched per-transaction payloads.
type Block struct {
	PKID   int64
	Height int64
	Hash   string
	Conf   int64
	Info   JSONMap
	Tx     []JSONMap
}

// Miner returns the block's recorded miner wallet address, when present.
func (b *Block) Miner() string {
	m, _ := b.Info["miner"].(string)
	return m
}

// Timestamp returns the block's unix time from the node document.
func (b *Block) Timestamp() int64 {
	t, _ := b.Info["time"].(float64)
	return int64(t)
}

const blockCols = `pkid, height, hash, conf, info, tx`

func scanBlock(row pgx.Row) (*Block, error) {
	var b Block
	err := row.Scan(&b.PKID, &b.Height, &b.Hash, &b.Conf, &b.Info, &b.Tx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: scan block: %w", err)
	}
	return &b, nil
}

func (s *Store) InsertBlock(ctx context.Context, b *Block) error {
	if b.Tx == nil {
		b.Tx = []JSONMap{}
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO block (height, hash, conf, info, tx)
		 VALUES ($1, $2, $3, $4, $5) RETURNING pkid`,
		b.Height, b.Hash, b.Conf, jsonOrEmpty(b.Info), b.Tx,
	).Scan(&b.PKID)
	if err != nil {
		return fmt.Errorf("db: insert block %d: %w", b.Height, err)
	}
	return nil
}

func (s *Store) BlockByPK(ctx context.Context, pkid int64) (*Block, error) {
	return scanBlock(s.q.QueryRow(ctx,
		`SELECT `+blockCols+` FROM block WHERE pkid = $1`, pkid))
}

func (s *Store) BlockByHeight(ctx context.Context, height int64) (*Block, error) {
	return scanBlock(s.q.QueryRow(ctx,
		`SELECT `+blockCols+` FROM block WHERE height = $1`, height))
}

// TipBlock returns the highest stored block, or nil on an empty store.
func (s *Store) TipBlock(ctx context.Context) (*Block, error) {
	return scanBlock(s.q.QueryRow(ctx,
		`SELECT ` + blockCols + ` FROM block ORDER BY height DESC LIMIT 1`))
}

// BlockRef is the slim shape the confirmation sweep walks.
type BlockRef struct {
	PKID   int64
	Height int64
	Hash   string
	Conf   int64
}

// BlocksAscending lists stored blocks lowest height first.
func (s *Store) BlocksAscending(ctx context.Context) ([]BlockRef, error) {
	rows, err := s.q.Query(ctx,
		`SELECT pkid, height, hash, conf FROM block ORDER BY height`)
	if err != nil {
		return nil, fmt.Errorf("db: list blocks: %w", err)
	}
	defer rows.Close()

	var out []BlockRef
	for rows.Next() {
		var r BlockRef
		if err := rows.Scan(&r.PKID, &r.Height, &r.Hash, &r.Conf); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBlockConf(ctx context.Context, pkid, conf int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE block SET conf = $2 WHERE pkid = $1`, pkid, conf)
	if err != nil {
		return fmt.Errorf("db: update block conf %d: %w", pkid, err)
	}
	return nil
}

// DeleteBlock removes the block, cascading to its history rows and the
// per-subscription rows below them.
func (s *Store) DeleteBlock(ctx context.Context, pkid int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM block WHERE pkid = $1`, pkid)
	if err != nil {
		return fmt.Errorf("db: delete block %d: %w", pkid, err)
	}
	return nil
}

// DeleteBlockIfEmpty reaps a block that has no history rows left.
func (s *Store) DeleteBlockIfEmpty(ctx context.Context, pkid int64) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM block WHERE pkid = $1
		 AND NOT EXISTS (SELECT 1 FROM addr_hist WHERE block_pk = $1)`, pkid)
	if err != nil {
		return false, fmt.Errorf("db: reap block %d: %w", pkid, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) BlockHistCount(ctx context.Context, blockPK int64) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM addr_hist WHERE block_pk = $1`, blockPK).Scan(&n)
	return n, err
}
