package db

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5"
)

// ErrBadSubName rejects subscription labels that are too short or carry
// characters outside letters, digits and plain spaces.
var ErrBadSubName = errors.New("db: subscription name must be at least 5 characters of letters, digits and spaces")

const minSubNameLen = 5

// ValidateSubName enforces the label rules shared by subscription
// creation and rename.
func ValidateSubName(name string) error {
	runes := []rune(name)
	if len(runes) < minSubNameLen {
		return ErrBadSubName
	}
	for _, r := range runes {
		switch {
		case r == ' ':
		case unicode.IsSpace(r), unicode.IsPunct(r), unicode.IsSymbol(r):
			return ErrBadSubName
		case !unicode.IsPrint(r):
			return ErrBadSubName
		}
	}
	return nil
}

// UserAddr is one user's subscription to one address. BlockT and BlockC
// track the last mined-block credit; TokenL is the set of watched token
// contract hex addresses filtering the address's balance views.
type UserAddr struct {
	PKID   int64
	UserPK int64
	AddrPK int64
	Name   string
	BlockT *time.Time
	BlockC int64
	TokenL []string
	Info   JSONMap
	Data   JSONMap
}

const userAddrCols = `pkid, user_pk, addr_pk, name, block_t, block_c, token_l, info, data`

func scanUserAddr(row pgx.Row) (*UserAddr, error) {
	var ua UserAddr
	err := row.Scan(&ua.PKID, &ua.UserPK, &ua.AddrPK, &ua.Name,
		&ua.BlockT, &ua.BlockC, &ua.TokenL, &ua.Info, &ua.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db: scan user_addr: %w", err)
	}
	return &ua, nil
}

// AddUserAddr subscribes a user to an interned address. The existing
// row is returned untouched when the pair already exists.
func (s *Store) AddUserAddr(ctx context.Context, userPK, addrPK int64, name string) (*UserAddr, error) {
	if err := ValidateSubName(name); err != nil {
		return nil, err
	}
	if ua, err := s.UserAddrByAddr(ctx, userPK, addrPK); err != nil || ua != nil {
		return ua, err
	}

	ua := &UserAddr{
		UserPK: userPK, AddrPK: addrPK, Name: name,
		TokenL: []string{}, Info: JSONMap{}, Data: JSONMap{},
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO user_addr (user_pk, addr_pk, name, token_l, info, data)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING pkid`,
		ua.UserPK, ua.AddrPK, ua.Name, ua.TokenL, ua.Info, ua.Data,
	).Scan(&ua.PKID)
	if err != nil {
		return nil, fmt.Errorf("db: add user_addr user=%d addr=%d: %w", userPK, addrPK, err)
	}
	return ua, nil
}

func (s *Store) UserAddrByPK(ctx context.Context, userPK, pkid int64) (*UserAddr, error) {
	return scanUserAddr(s.q.QueryRow(ctx,
		`SELECT `+userAddrCols+` FROM user_addr WHERE pkid = $1 AND user_pk = $2`,
		pkid, userPK))
}

func (s *Store) UserAddrByAddr(ctx context.Context, userPK, addrPK int64) (*UserAddr, error) {
	return scanUserAddr(s.q.QueryRow(ctx,
		`SELECT `+userAddrCols+` FROM user_addr WHERE user_pk = $1 AND addr_pk = $2`,
		userPK, addrPK))
}

// UserAddrsForAddr lists every subscription on the address, any user.
func (s *Store) UserAddrsForAddr(ctx context.Context, addrPK int64) ([]*UserAddr, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+userAddrCols+` FROM user_addr WHERE addr_pk = $1 ORDER BY pkid`, addrPK)
	if err != nil {
		return nil, fmt.Errorf("db: user_addrs for addr %d: %w", addrPK, err)
	}
	return collectUserAddrs(rows)
}

// UserAddrsForUser lists the user's subscriptions.
func (s *Store) UserAddrsForUser(ctx context.Context, userPK int64) ([]*UserAddr, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+userAddrCols+` FROM user_addr WHERE user_pk = $1 ORDER BY pkid`, userPK)
	if err != nil {
		return nil, fmt.Errorf("db: user_addrs for user %d: %w", userPK, err)
	}
	return collectUserAddrs(rows)
}

func collectUserAddrs(rows pgx.Rows) ([]*UserAddr, error) {
	defer rows.Close()
	var out []*UserAddr
	for rows.Next() {
		var ua UserAddr
		if err := rows.Scan(&ua.PKID, &ua.UserPK, &ua.AddrPK, &ua.Name,
			&ua.BlockT, &ua.BlockC, &ua.TokenL, &ua.Info, &ua.Data); err != nil {
			return nil, fmt.Errorf("db: user_addr scan: %w", err)
		}
		out = append(out, &ua)
	}
	return out, rows.Err()
}

// UserAddrUpdate is the PATCH payload for a subscription. Nil fields are
// left untouched; Over controls replace-vs-merge for Info and Data.
type UserAddrUpdate struct {
	Name *string
	Info JSONMap
	Data JSONMap
	Over bool
}

func (s *Store) UpdateUserAddr(ctx context.Context, userPK, pkid int64, upd UserAddrUpdate) (*UserAddr, error) {
	ua, err := s.UserAddrByPK(ctx, userPK, pkid)
	if err != nil || ua == nil {
		return ua, err
	}
	if upd.Name != nil {
		if err := ValidateSubName(*upd.Name); err != nil {
			return nil, err
		}
		ua.Name = *upd.Name
	}
	if upd.Info != nil {
		if upd.Over {
			ua.Info = upd.Info
		} else {
			ua.Info = MergeJSON(ua.Info, upd.Info)
		}
	}
	if upd.Data != nil {
		if upd.Over {
			ua.Data = upd.Data
		} else {
			ua.Data = MergeJSON(ua.Data, upd.Data)
		}
	}
	_, err = s.q.Exec(ctx,
		`UPDATE user_addr SET name = $2, info = $3, data = $4, date_update = now()
		 WHERE pkid = $1`,
		ua.PKID, ua.Name, ua.Info, ua.Data)
	if err != nil {
		return nil, fmt.Errorf("db: update user_addr %d: %w", pkid, err)
	}
	return ua, nil
}

// RemoveUserAddr drops the subscription and reaps the address if nobody
// else watches it.
func (s *Store) RemoveUserAddr(ctx context.Context, userPK, pkid int64) (bool, error) {
	ua, err := s.UserAddrByPK(ctx, userPK, pkid)
	if err != nil || ua == nil {
		return false, err
	}
	if _, err := s.q.Exec(ctx, `DELETE FROM user_addr WHERE pkid = $1`, ua.PKID); err != nil {
		return false, fmt.Errorf("db: remove user_addr %d: %w", pkid, err)
	}
	if _, err := s.DeleteAddrIfUnused(ctx, ua.AddrPK); err != nil {
		return false, err
	}
	return true, nil
}

// AddWatchedToken inserts a token contract hex into the subscription's
// watch set. Idempotent.
func (s *Store) AddWatchedToken(ctx context.Context, userPK, pkid int64, tokenHex string) (*UserAddr, error) {
	ua, err := s.UserAddrByPK(ctx, userPK, pkid)
	if err != nil || ua == nil {
		return ua, err
	}
	for _, t := range ua.TokenL {
		if t == tokenHex {
			return ua, nil
		}
	}
	ua.TokenL = append(ua.TokenL, tokenHex)
	return ua, s.writeTokenL(ctx, ua)
}

// RemoveWatchedToken drops a token contract hex from the watch set.
func (s *Store) RemoveWatchedToken(ctx context.Context, userPK, pkid int64, tokenHex string) (*UserAddr, error) {
	ua, err := s.UserAddrByPK(ctx, userPK, pkid)
	if err != nil || ua == nil {
		return ua, err
	}
	kept := ua.TokenL[:0]
	for _, t := range ua.TokenL {
		if t != tokenHex {
			kept = append(kept, t)
		}
	}
	ua.TokenL = kept
	return ua, s.writeTokenL(ctx, ua)
}

func (s *Store) writeTokenL(ctx context.Context, ua *UserAddr) error {
	_, err := s.q.Exec(ctx,
		`UPDATE user_addr SET token_l = $2, date_update = now() WHERE pkid = $1`,
		ua.PKID, ua.TokenL)
	if err != nil {
		return fmt.Errorf("db: update token_l %d: %w", ua.PKID, err)
	}
	return nil
}

// WatchedTokensForAddr unions every subscriber's token watch set for an
// address, the filter applied when volatile balances are stripped.
func (s *Store) WatchedTokensForAddr(ctx context.Context, addrPK int64) (map[string]struct{}, error) {
	subs, err := s.UserAddrsForAddr(ctx, addrPK)
	if err != nil {
		return nil, err
	}
	watched := make(map[string]struct{})
	for _, ua := range subs {
		for _, t := range ua.TokenL {
			watched[t] = struct{}{}
		}
	}
	return watched, nil
}

// CreditMinedBlock advances the subscription's mined-block counter and
// timestamp after its snapshot row is taken.
func (s *Store) CreditMinedBlock(ctx context.Context, pkid int64, blockTime time.Time) error {
	_, err := s.q.Exec(ctx,
		`UPDATE user_addr SET block_t = $2, block_c = block_c + 1, date_update = now()
		 WHERE pkid = $1`,
		pkid, blockTime)
	if err != nil {
		return fmt.Errorf("db: credit mined block %d: %w", pkid, err)
	}
	return nil
}

// RestoreMinedCounters puts a subscription's counters back to a
// pre-fork snapshot.
func (s *Store) RestoreMinedCounters(ctx context.Context, pkid int64, blockT *time.Time, blockC int64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE user_addr SET block_t = $2, block_c = $3, date_update = now()
		 WHERE pkid = $1`,
		pkid, blockT, blockC)
	if err != nil {
		return fmt.Errorf("db: restore counters %d: %w", pkid, err)
	}
	return nil
}
