package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ChainStat is one sampled snapshot of chain-wide figures, recorded
// against the tip block that was current when it was taken.
type ChainStat struct {
	PKID        int64     `json:"pkid"`
	Time        time.Time `json:"time"`
	APR         float64   `json:"apr"`
	Blocks      int64     `json:"blocks"`
	Connections int64     `json:"connections"`
	TimeOffset  int64     `json:"time_offset"`
	BlockValue  float64   `json:"block_value"`
	MoneySupply float64   `json:"money_supply"`
	BurnedCoins float64   `json:"burned_coins"`
	NetWeight   float64   `json:"net_weight"`
	NetHashRate float64   `json:"net_hash_rate"`
	NetDiffPoS  float64   `json:"net_diff_pos"`
	NetDiffPoW  float64   `json:"net_diff_pow"`
}

// InsertStat records a snapshot for the given tip. A repeat sample at
// the same (height, hash) is dropped silently.
func (s *Store) InsertStat(ctx context.Context, height int64, hash string, st *ChainStat) error {
	var blockPK int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO stat.block (height, hash) VALUES ($1, $2)
		 ON CONFLICT (height, hash) DO NOTHING
		 RETURNING pkid`,
		height, hash,
	).Scan(&blockPK)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("db: insert stat block %d: %w", height, err)
	}

	err = s.q.QueryRow(ctx,
		`INSERT INTO stat.stat (block_pk, apr, blocks, connections, time_offset,
			block_value, money_supply, burned_coins, net_weight,
			net_hash_rate, net_diff_pos, net_diff_pow)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING pkid, time`,
		blockPK, st.APR, st.Blocks, st.Connections, st.TimeOffset,
		st.BlockValue, st.MoneySupply, st.BurnedCoins, st.NetWeight,
		st.NetHashRate, st.NetDiffPoS, st.NetDiffPoW,
	).Scan(&st.PKID, &st.Time)
	if err != nil {
		return fmt.Errorf("db: insert stat %d: %w", height, err)
	}
	return nil
}

// LatestStat returns the most recent snapshot, nil when none recorded.
func (s *Store) LatestStat(ctx context.Context) (*ChainStat, error) {
	var st ChainStat
	err := s.q.QueryRow(ctx,
		`SELECT pkid, time, apr, blocks, connections, time_offset,
			block_value, money_supply, burned_coins, net_weight,
			net_hash_rate, net_diff_pos, net_diff_pow
		 FROM stat.stat ORDER BY pkid DESC LIMIT 1`,
	).Scan(&st.PKID, &st.Time, &st.APR, &st.Blocks, &st.Connections, &st.TimeOffset,
		&st.BlockValue, &st.MoneySupply, &st.BurnedCoins, &st.NetWeight,
		&st.NetHashRate, &st.NetDiffPoS, &st.NetDiffPoW)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: latest stat: %w", err)
	}
	return &st, nil
}

// QuantStat1D is the rolling one-day median view over stat snapshots.
type QuantStat1D struct {
	Count       int64    `json:"count"`
	APR         *float64 `json:"apr"`
	BlockValue  *float64 `json:"block_value"`
	MoneySupply *float64 `json:"money_supply"`
	BurnedCoins *float64 `json:"burned_coins"`
	NetWeight   *float64 `json:"net_weight"`
	NetHashRate *float64 `json:"net_hash_rate"`
	NetDiffPoS  *float64 `json:"net_diff_pos"`
	NetDiffPoW  *float64 `json:"net_diff_pow"`
}

func (s *Store) QuantStat1D(ctx context.Context) (*QuantStat1D, error) {
	var q QuantStat1D
	err := s.q.QueryRow(ctx,
		`SELECT count, apr, block_value, money_supply, burned_coins,
			net_weight, net_hash_rate, net_diff_pos, net_diff_pow
		 FROM stat.quant_stat_1d`,
	).Scan(&q.Count, &q.APR, &q.BlockValue, &q.MoneySupply, &q.BurnedCoins,
		&q.NetWeight, &q.NetHashRate, &q.NetDiffPoS, &q.NetDiffPoW)
	if err != nil {
		return nil, fmt.Errorf("db: quant stat 1d: %w", err)
	}
	return &q, nil
}

// QuantNetWeight is the multi-window net weight median view.
type QuantNetWeight struct {
	Count    int64    `json:"count"`
	Median1H *float64 `json:"median_1h"`
	Median1D *float64 `json:"median_1d"`
	Median1W *float64 `json:"median_1w"`
	Median1M *float64 `json:"median_1m"`
}

func (s *Store) QuantNetWeight(ctx context.Context) (*QuantNetWeight, error) {
	var q QuantNetWeight
	err := s.q.QueryRow(ctx,
		`SELECT count, median_1h, median_1d, median_1w, median_1m
		 FROM stat.quant_net_weight`,
	).Scan(&q.Count, &q.Median1H, &q.Median1D, &q.Median1W, &q.Median1M)
	if err != nil {
		return nil, fmt.Errorf("db: quant net weight: %w", err)
	}
	return &q, nil
}
