package db

import (
	"context"
	"fmt"
)

// Schema creation is idempotent and runs at startup, mirroring the
// original service's create-on-open behaviour.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS addr (
		pkid        BIGSERIAL PRIMARY KEY,
		date_create TIMESTAMPTZ NOT NULL DEFAULT now(),
		date_update TIMESTAMPTZ,
		addr_tp     TEXT NOT NULL,
		addr_hx     VARCHAR(40) NOT NULL UNIQUE,
		addr_hy     VARCHAR(34) NOT NULL UNIQUE,
		block_h     BIGINT NOT NULL DEFAULT 0,
		info        JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS addr_tp_idx ON addr (addr_tp)`,

	`CREATE TABLE IF NOT EXISTS block (
		pkid   BIGSERIAL PRIMARY KEY,
		height BIGINT NOT NULL,
		hash   VARCHAR(64) NOT NULL UNIQUE,
		conf   BIGINT NOT NULL DEFAULT 0,
		info   JSONB NOT NULL DEFAULT '{}',
		tx     JSONB NOT NULL DEFAULT '[]',
		UNIQUE (height, hash)
	)`,
	`CREATE INDEX IF NOT EXISTS block_height_idx ON block (height)`,

	`CREATE TABLE IF NOT EXISTS addr_hist (
		pkid     BIGSERIAL PRIMARY KEY,
		block_pk BIGINT NOT NULL REFERENCES block(pkid) ON DELETE CASCADE,
		addr_pk  BIGINT NOT NULL REFERENCES addr(pkid) ON DELETE CASCADE,
		info_old JSONB NOT NULL DEFAULT '{}',
		info_new JSONB NOT NULL DEFAULT '{}',
		mined    BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (block_pk, addr_pk)
	)`,

	`CREATE TABLE IF NOT EXISTS user_uniq (
		pkid        BIGSERIAL PRIMARY KEY,
		date_create TIMESTAMPTZ NOT NULL DEFAULT now(),
		date_update TIMESTAMPTZ,
		name        TEXT NOT NULL UNIQUE,
		time        BIGINT NOT NULL UNIQUE,
		nano        BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS "user" (
		pkid       BIGINT PRIMARY KEY REFERENCES user_uniq(pkid) ON DELETE CASCADE,
		tg_user_id BIGINT NOT NULL UNIQUE,
		info       JSONB NOT NULL DEFAULT '{}',
		data       JSONB NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS user_addr (
		pkid        BIGSERIAL PRIMARY KEY,
		user_pk     BIGINT NOT NULL REFERENCES "user"(pkid) ON DELETE CASCADE,
		addr_pk     BIGINT NOT NULL REFERENCES addr(pkid) ON DELETE CASCADE,
		date_create TIMESTAMPTZ NOT NULL DEFAULT now(),
		date_update TIMESTAMPTZ,
		name        TEXT NOT NULL,
		block_t     TIMESTAMPTZ,
		block_c     BIGINT NOT NULL DEFAULT 0,
		token_l     JSONB NOT NULL DEFAULT '[]',
		info        JSONB NOT NULL DEFAULT '{}',
		data        JSONB NOT NULL DEFAULT '{}',
		UNIQUE (user_pk, addr_pk),
		UNIQUE (user_pk, name)
	)`,

	`CREATE TABLE IF NOT EXISTS user_addr_hist (
		pkid         BIGSERIAL PRIMARY KEY,
		user_addr_pk BIGINT NOT NULL REFERENCES user_addr(pkid) ON DELETE CASCADE,
		addr_hist_pk BIGINT NOT NULL REFERENCES addr_hist(pkid) ON DELETE CASCADE,
		date_create  TIMESTAMPTZ NOT NULL DEFAULT now(),
		block_t      TIMESTAMPTZ,
		block_c      BIGINT NOT NULL,
		data         JSONB,
		UNIQUE (user_addr_pk, addr_hist_pk)
	)`,

	`CREATE TABLE IF NOT EXISTS event (
		id          BIGSERIAL PRIMARY KEY,
		date_create TIMESTAMPTZ NOT NULL DEFAULT now(),
		date_expire TIMESTAMPTZ NOT NULL,
		event       TEXT NOT NULL,
		claim       JSONB NOT NULL DEFAULT '[]',
		data        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS event_kind_idx ON event (event, id)`,
	`CREATE INDEX IF NOT EXISTS event_claim_idx ON event USING gin (claim)`,

	`CREATE SCHEMA IF NOT EXISTS stat`,

	`CREATE TABLE IF NOT EXISTS stat.block (
		pkid   BIGSERIAL PRIMARY KEY,
		height BIGINT NOT NULL,
		hash   VARCHAR(64) NOT NULL,
		UNIQUE (height, hash)
	)`,

	`CREATE TABLE IF NOT EXISTS stat.stat (
		pkid          BIGSERIAL PRIMARY KEY,
		block_pk      BIGINT NOT NULL UNIQUE REFERENCES stat.block(pkid) ON DELETE CASCADE,
		time          TIMESTAMPTZ NOT NULL DEFAULT now(),
		apr           NUMERIC NOT NULL,
		blocks        BIGINT NOT NULL,
		connections   BIGINT NOT NULL,
		time_offset   BIGINT NOT NULL,
		block_value   NUMERIC NOT NULL,
		money_supply  NUMERIC NOT NULL,
		burned_coins  NUMERIC NOT NULL,
		net_weight    NUMERIC NOT NULL,
		net_hash_rate NUMERIC NOT NULL,
		net_diff_pos  NUMERIC NOT NULL,
		net_diff_pow  NUMERIC NOT NULL
	)`,

	`CREATE OR REPLACE VIEW stat.quant_stat_1d AS
	SELECT
		count(*)                                                        AS count,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY apr)                AS apr,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY block_value)        AS block_value,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY money_supply)       AS money_supply,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY burned_coins)       AS burned_coins,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY net_weight)         AS net_weight,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY net_hash_rate)      AS net_hash_rate,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY net_diff_pos)       AS net_diff_pos,
		percentile_cont(0.5) WITHIN GROUP (ORDER BY net_diff_pow)       AS net_diff_pow
	FROM stat.stat
	WHERE time >= now() - interval '1 day'`,

	`CREATE OR REPLACE VIEW stat.quant_net_weight AS
	SELECT
		count(*) AS count,
		(SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY net_weight)
		   FROM stat.stat WHERE time >= now() - interval '1 hour')  AS median_1h,
		(SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY net_weight)
		   FROM stat.stat WHERE time >= now() - interval '1 day')   AS median_1d,
		(SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY net_weight)
		   FROM stat.stat WHERE time >= now() - interval '1 week')  AS median_1w,
		(SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY net_weight)
		   FROM stat.stat WHERE time >= now() - interval '1 month') AS median_1m
	FROM stat.stat`,
}

// EnsureSchema creates all tables, indexes and views if absent.
func (d *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}
