package db

import (
	"context"
	"fmt"
	"time"
)

// SSE event names carried inside a block event payload.
const (
	BlockEventCreate = "create"
	BlockEventMature = "mature"
)

// BlockResult is the wire shape of a stored block.
type BlockResult struct {
	PKID   int64     `json:"pkid"`
	Height int64     `json:"height"`
	Hash   string    `json:"hash"`
	Conf   int64     `json:"conf"`
	Info   JSONMap   `json:"info"`
	Tx     []JSONMap `json:"tx"`
}

func NewBlockResult(b *Block) *BlockResult {
	return &BlockResult{
		PKID: b.PKID, Height: b.Height, Hash: b.Hash,
		Conf: b.Conf, Info: b.Info, Tx: b.Tx,
	}
}

// AddrResult is the wire shape of an interned address.
type AddrResult struct {
	PKID   int64   `json:"pkid"`
	Type   string  `json:"addr_tp"`
	Hex    string  `json:"addr_hx"`
	Hy     string  `json:"addr_hy"`
	BlockH int64   `json:"block_h"`
	Info   JSONMap `json:"info"`
}

func NewAddrResult(a *Addr) *AddrResult {
	return &AddrResult{
		PKID: a.PKID, Type: string(a.Type), Hex: a.Hex, Hy: a.Hy,
		BlockH: a.BlockH, Info: a.Info,
	}
}

// UserAddrResult is the wire shape of a subscription.
type UserAddrResult struct {
	PKID   int64      `json:"pkid"`
	UserPK int64      `json:"user_pk"`
	AddrPK int64      `json:"addr_pk"`
	Name   string     `json:"name"`
	BlockT *time.Time `json:"block_t"`
	BlockC int64      `json:"block_c"`
	TokenL []string   `json:"token_l"`
	Info   JSONMap    `json:"info"`
	Data   JSONMap    `json:"data"`
}

func NewUserAddrResult(ua *UserAddr) *UserAddrResult {
	return &UserAddrResult{
		PKID: ua.PKID, UserPK: ua.UserPK, AddrPK: ua.AddrPK, Name: ua.Name,
		BlockT: ua.BlockT, BlockC: ua.BlockC, TokenL: ua.TokenL,
		Info: ua.Info, Data: ua.Data,
	}
}

// UserAddrHistResult pairs a counter snapshot with the subscription it
// belongs to.
type UserAddrHistResult struct {
	PKID     int64           `json:"pkid"`
	BlockT   *time.Time      `json:"block_t"`
	BlockC   int64           `json:"block_c"`
	Data     JSONMap         `json:"data"`
	UserAddr *UserAddrResult `json:"user_addr"`
}

// AddrHistResult is one address delta in a block event, with the
// per-subscriber snapshot views attached.
type AddrHistResult struct {
	PKID     int64                 `json:"pkid"`
	Addr     *AddrResult           `json:"addr"`
	InfoOld  JSONMap               `json:"info_old"`
	InfoNew  JSONMap               `json:"info_new"`
	Mined    bool                  `json:"mined"`
	UserHist []*UserAddrHistResult `json:"user_hist"`
}

// BlockSSEResult is the payload of one queued block event: the stored
// block plus every address delta it produced. ID is the durable event
// queue id assigned on enqueue.
type BlockSSEResult struct {
	ID    int64             `json:"id"`
	Event string            `json:"event"`
	Block *BlockResult      `json:"block"`
	Hist  []*AddrHistResult `json:"hist"`
}

// BuildBlockSSEResult assembles a block event payload from storage. The
// queue id is filled in by the caller once the event row exists.
func (s *Store) BuildBlockSSEResult(ctx context.Context, event string, blockPK int64) (*BlockSSEResult, error) {
	b, err := s.BlockByPK(ctx, blockPK)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("db: block %d not stored", blockPK)
	}

	hists, err := s.HistByBlock(ctx, blockPK)
	if err != nil {
		return nil, err
	}

	res := &BlockSSEResult{
		Event: event,
		Block: NewBlockResult(b),
		Hist:  make([]*AddrHistResult, 0, len(hists)),
	}
	for _, h := range hists {
		hr, err := s.buildAddrHistResult(ctx, h)
		if err != nil {
			return nil, err
		}
		res.Hist = append(res.Hist, hr)
	}
	return res, nil
}

func (s *Store) buildAddrHistResult(ctx context.Context, h *AddrHist) (*AddrHistResult, error) {
	a, err := s.AddrByPK(ctx, h.AddrPK)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("db: addr %d missing for hist %d", h.AddrPK, h.PKID)
	}

	snaps, err := s.UserAddrHistByAddrHist(ctx, h.PKID)
	if err != nil {
		return nil, err
	}

	hr := &AddrHistResult{
		PKID:     h.PKID,
		Addr:     NewAddrResult(a),
		InfoOld:  h.InfoOld,
		InfoNew:  h.InfoNew,
		Mined:    h.Mined,
		UserHist: make([]*UserAddrHistResult, 0, len(snaps)),
	}
	for _, snap := range snaps {
		ua, err := s.userAddrAnyUser(ctx, snap.UserAddrPK)
		if err != nil {
			return nil, err
		}
		uhr := &UserAddrHistResult{
			PKID: snap.PKID, BlockT: snap.BlockT, BlockC: snap.BlockC, Data: snap.Data,
		}
		if ua != nil {
			uhr.UserAddr = NewUserAddrResult(ua)
		}
		hr.UserHist = append(hr.UserHist, uhr)
	}
	return hr, nil
}

func (s *Store) userAddrAnyUser(ctx context.Context, pkid int64) (*UserAddr, error) {
	return scanUserAddr(s.q.QueryRow(ctx,
		`SELECT `+userAddrCols+` FROM user_addr WHERE pkid = $1`, pkid))
}
