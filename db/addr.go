package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AddrType classifies an interned address. Immutable after creation.
type AddrType string

const (
	AddrTypeHydra AddrType = "HYDRA"
	AddrTypeSmac  AddrType = "smart contract"
	AddrTypeToken AddrType = "token"
	AddrTypeNFT   AddrType = "NFT"
)

const (
	hyAddrLen  = 34
	hexAddrLen = 40
)

// AddrTypeByLen pre-classifies an address string by length: 34 chars is
// a base-36 wallet form, 40 chars a hex contract form.
func AddrTypeByLen(address string) (AddrType, bool) {
	switch len(address) {
	case hyAddrLen:
		return AddrTypeHydra, true
	case hexAddrLen:
		return AddrTypeSmac, true
	}
	return "", false
}

// Addr is an interned on-chain address. The hex and base-36 forms are a
// 1-1 pair; Info is the last known explorer payload minus volatile
// balance sub-records.
type Addr struct {
	PKID   int64
	Type   AddrType
	Hex    string
	Hy     string
	BlockH int64
	Info   JSONMap
}

// String renders the form users recognise: base-36 for wallets, hex for
// contract kinds.
func (a *Addr) String() string {
	if a.Type == AddrTypeHydra {
		return a.Hy
	}
	return a.Hex
}

func scanAddr(row pgx.Row) (*Addr, error) {
	var a Addr
	err := row.Scan(&a.PKID, &a.Type, &a.Hex, &a.Hy, &a.BlockH, &a.Info)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: scan addr: %w", err)
	}
	return &a, nil
}

const addrCols = `pkid, addr_tp, addr_hx, addr_hy, block_h, info`

// AddrByHex looks up an interned address by its hex form. Returns nil
// when absent.
func (s *Store) AddrByHex(ctx context.Context, hex string) (*Addr, error) {
	return scanAddr(s.q.QueryRow(ctx,
		`SELECT `+addrCols+` FROM addr WHERE addr_hx = $1`, hex))
}

func (s *Store) AddrByPK(ctx context.Context, pkid int64) (*Addr, error) {
	return scanAddr(s.q.QueryRow(ctx,
		`SELECT `+addrCols+` FROM addr WHERE pkid = $1`, pkid))
}

// InsertAddr interns a new address row and fills in the generated pkid.
func (s *Store) InsertAddr(ctx context.Context, a *Addr) error {
	err := s.q.QueryRow(ctx,
		`INSERT INTO addr (addr_tp, addr_hx, addr_hy, block_h, info)
		 VALUES ($1, $2, $3, $4, $5) RETURNING pkid`,
		a.Type, a.Hex, a.Hy, a.BlockH, jsonOrEmpty(a.Info),
	).Scan(&a.PKID)
	if err != nil {
		return fmt.Errorf("db: insert addr %s: %w", a.Hex, err)
	}
	return nil
}

// UpdateAddrInfo writes back a refreshed info document and last-seen
// height.
func (s *Store) UpdateAddrInfo(ctx context.Context, a *Addr) error {
	_, err := s.q.Exec(ctx,
		`UPDATE addr SET info = $2, block_h = $3, date_update = now() WHERE pkid = $1`,
		a.PKID, jsonOrEmpty(a.Info), a.BlockH)
	if err != nil {
		return fmt.Errorf("db: update addr %d: %w", a.PKID, err)
	}
	return nil
}

// MatchAddrs returns interned addresses whose hex form is in hexSet or
// base-36 form is in hySet, the correlation step of block ingestion.
func (s *Store) MatchAddrs(ctx context.Context, hexSet, hySet []string) ([]*Addr, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+addrCols+` FROM addr
		 WHERE addr_hx = ANY($1) OR addr_hy = ANY($2)
		 ORDER BY pkid`, hexSet, hySet)
	if err != nil {
		return nil, fmt.Errorf("db: match addrs: %w", err)
	}
	defer rows.Close()

	var out []*Addr
	for rows.Next() {
		var a Addr
		if err := rows.Scan(&a.PKID, &a.Type, &a.Hex, &a.Hy, &a.BlockH, &a.Info); err != nil {
			return nil, fmt.Errorf("db: match addrs scan: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// AddrSubscriberCount counts live subscriptions to the address.
func (s *Store) AddrSubscriberCount(ctx context.Context, addrPK int64) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT count(*) FROM user_addr WHERE addr_pk = $1`, addrPK).Scan(&n)
	return n, err
}

// DeleteAddrIfUnused removes the address once its last subscriber is
// gone, cascading to its orphan histories, then reaps blocks left with
// no history rows.
func (s *Store) DeleteAddrIfUnused(ctx context.Context, addrPK int64) (bool, error) {
	n, err := s.AddrSubscriberCount(ctx, addrPK)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	blockPKs, err := s.blockPKsWithHistFor(ctx, addrPK)
	if err != nil {
		return false, err
	}

	if _, err := s.q.Exec(ctx, `DELETE FROM addr WHERE pkid = $1`, addrPK); err != nil {
		return false, fmt.Errorf("db: delete addr %d: %w", addrPK, err)
	}

	for _, blockPK := range blockPKs {
		if _, err := s.DeleteBlockIfEmpty(ctx, blockPK); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) blockPKsWithHistFor(ctx context.Context, addrPK int64) ([]int64, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT block_pk FROM addr_hist WHERE addr_pk = $1`, addrPK)
	if err != nil {
		return nil, fmt.Errorf("db: blocks for addr %d: %w", addrPK, err)
	}
	defer rows.Close()

	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, rows.Err()
}

func jsonOrEmpty(m JSONMap) JSONMap {
	if m == nil {
		return JSONMap{}
	}
	return m
}
