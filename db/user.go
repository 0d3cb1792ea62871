package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// User is an account keyed by its Telegram user id, carrying a
// generated unique display name.
type User struct {
	PKID     int64   `json:"pkid"`
	TgUserID int64   `json:"tg_user_id"`
	Name     string  `json:"name"`
	Info     JSONMap `json:"info"`
	Data     JSONMap `json:"data"`
}

// CreateUser registers a new account under the given display name.
// Returns the existing user unchanged when the Telegram id is already
// registered. A name or timestamp collision surfaces as a unique
// violation; callers retry the whole transaction with a fresh name,
// since the aborted transaction cannot continue.
func (s *Store) CreateUser(ctx context.Context, tgUserID int64, name string) (*User, error) {
	if u, err := s.UserByTgID(ctx, tgUserID); err != nil || u != nil {
		return u, err
	}

	now := time.Now()
	var uniqPK int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO user_uniq (name, time, nano) VALUES ($1, $2, $3) RETURNING pkid`,
		name, now.Unix(), int64(now.Nanosecond()),
	).Scan(&uniqPK)
	if err != nil {
		return nil, fmt.Errorf("db: create user name: %w", err)
	}

	u := &User{PKID: uniqPK, TgUserID: tgUserID, Name: name, Info: JSONMap{}, Data: JSONMap{}}
	_, err = s.q.Exec(ctx,
		`INSERT INTO "user" (pkid, tg_user_id, info, data) VALUES ($1, $2, $3, $4)`,
		u.PKID, u.TgUserID, u.Info, u.Data)
	if err != nil {
		return nil, fmt.Errorf("db: create user %d: %w", tgUserID, err)
	}
	return u, nil
}

const userCols = `u.pkid, u.tg_user_id, uq.name, u.info, u.data`

const userFrom = ` FROM "user" u JOIN user_uniq uq ON uq.pkid = u.pkid `

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.PKID, &u.TgUserID, &u.Name, &u.Info, &u.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: scan user: %w", err)
	}
	return &u, nil
}

func (s *Store) UserByPK(ctx context.Context, pkid int64) (*User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT `+userCols+userFrom+`WHERE u.pkid = $1`, pkid))
}

func (s *Store) UserByTgID(ctx context.Context, tgUserID int64) (*User, error) {
	return scanUser(s.q.QueryRow(ctx,
		`SELECT `+userCols+userFrom+`WHERE u.tg_user_id = $1`, tgUserID))
}

// UpdateUserInfo replaces or overlays the user's info document. With
// over set the document is replaced wholesale.
func (s *Store) UpdateUserInfo(ctx context.Context, pkid int64, info JSONMap, over bool) (*User, error) {
	u, err := s.UserByPK(ctx, pkid)
	if err != nil || u == nil {
		return u, err
	}
	if over {
		u.Info = jsonOrEmpty(info)
	} else {
		u.Info = MergeJSON(u.Info, info)
	}
	_, err = s.q.Exec(ctx, `UPDATE "user" SET info = $2 WHERE pkid = $1`, pkid, u.Info)
	if err != nil {
		return nil, fmt.Errorf("db: update user info %d: %w", pkid, err)
	}
	return u, nil
}

// DeleteUser removes the account and everything hanging off it, then
// reaps addresses its subscriptions were the last watchers of.
func (s *Store) DeleteUser(ctx context.Context, pkid int64) (bool, error) {
	addrPKs, err := s.userAddrPKs(ctx, pkid)
	if err != nil {
		return false, err
	}

	tag, err := s.q.Exec(ctx, `DELETE FROM user_uniq WHERE pkid = $1`, pkid)
	if err != nil {
		return false, fmt.Errorf("db: delete user %d: %w", pkid, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, addrPK := range addrPKs {
		if _, err := s.DeleteAddrIfUnused(ctx, addrPK); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) userAddrPKs(ctx context.Context, userPK int64) ([]int64, error) {
	rows, err := s.q.Query(ctx,
		`SELECT addr_pk FROM user_addr WHERE user_pk = $1`, userPK)
	if err != nil {
		return nil, fmt.Errorf("db: addrs for user %d: %w", userPK, err)
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
