package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
)

// sweepAction is the per-block decision of the confirmation tracker.
type sweepAction int

const (
	sweepSkip sweepAction = iota
	sweepDelete
	sweepMature
)

// decideSweep maps a block's confirmation count and history row count
// to the tracker's action. Blocks short of maturity wait; blocks past
// it, or with nothing to report, are reaped; blocks exactly at maturity
// with history get the mature treatment.
func decideSweep(conf, histCount int64) sweepAction {
	switch {
	case conf < db.MaturityConf:
		return sweepSkip
	case conf > db.MaturityConf || histCount == 0:
		return sweepDelete
	default:
		return sweepMature
	}
}

// sweep walks stored blocks lowest height first, rewinding forks and
// maturing or reaping blocks by confirmation count.
func (p *Pipeline) sweep(ctx context.Context) error {
	store := p.dbc.Store()

	refs, err := store.BlocksAscending(ctx)
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		nodeHash, err := p.node.GetBlockHash(ctx, ref.Height)
		if err != nil {
			return err
		}
		if nodeHash != ref.Hash {
			if err := p.rewindFork(ctx, ref, nodeHash); err != nil {
				return err
			}
			continue
		}

		header, err := p.node.GetBlockHeader(ctx, ref.Hash)
		if err != nil {
			return err
		}
		histCount, err := store.BlockHistCount(ctx, ref.PKID)
		if err != nil {
			return err
		}

		switch decideSweep(header.Confirmations, histCount) {
		case sweepSkip:

		case sweepDelete:
			if err := store.DeleteBlock(ctx, ref.PKID); err != nil {
				return err
			}
			p.met.BlocksReaped.Inc()
			p.log.Debug("block reaped",
				zap.Int64("height", ref.Height),
				zap.Int64("conf", header.Confirmations))

		case sweepMature:
			if err := p.matureBlock(ctx, ref, header.Confirmations); err != nil {
				return err
			}
		}
	}
	return nil
}

// rewindFork restores every affected subscription's counters from the
// snapshots taken when the stale block was ingested, drops the block,
// and replays the height from the hash the node now asserts.
func (p *Pipeline) rewindFork(ctx context.Context, ref db.BlockRef, newHash string) error {
	p.met.ForkRewinds.Inc()
	p.log.Warn("fork detected, rewinding block",
		zap.Int64("height", ref.Height),
		zap.String("stored", ref.Hash),
		zap.String("chain", newHash))

	err := p.dbc.WithTx(ctx, func(s *db.Store) error {
		return restoreCounters(ctx, s, ref.PKID)
	})
	if err != nil {
		return err
	}

	return p.MakeBlock(ctx, ref.Height, -1, newHash)
}

// rewindStore is the slice of the storage layer the fork rewind needs.
// db.Store implements it; tests substitute a fake.
type rewindStore interface {
	UserAddrHistByBlock(ctx context.Context, blockPK int64) ([]*db.UserAddrHist, error)
	RestoreMinedCounters(ctx context.Context, pkid int64, blockT *time.Time, blockC int64) error
	DeleteBlock(ctx context.Context, pkid int64) error
}

// restoreCounters puts every subscription snapshotted under the block
// back to its pre-block counters, then drops the block and the history
// rows beneath it.
func restoreCounters(ctx context.Context, s rewindStore, blockPK int64) error {
	snaps, err := s.UserAddrHistByBlock(ctx, blockPK)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if err := s.RestoreMinedCounters(ctx, snap.UserAddrPK, snap.BlockT, snap.BlockC); err != nil {
			return err
		}
	}
	return s.DeleteBlock(ctx, blockPK)
}

// matureBlock freezes a block at the maturity count: address states are
// re-read, each history row rotates its old/new documents, and a mature
// event is enqueued post-commit.
func (p *Pipeline) matureBlock(ctx context.Context, ref db.BlockRef, conf int64) error {
	store := p.dbc.Store()

	hists, err := store.HistByBlock(ctx, ref.PKID)
	if err != nil {
		return err
	}

	// Refresh outside the transaction; a failed fetch leaves that
	// address's rotation with its last known state.
	fresh := make(map[int64]db.JSONMap, len(hists))
	for _, h := range hists {
		addr, err := store.AddrByPK(ctx, h.AddrPK)
		if err != nil {
			return err
		}
		if addr == nil {
			continue
		}
		watched, err := store.WatchedTokensForAddr(ctx, addr.PKID)
		if err != nil {
			return err
		}
		if _, err := p.reg.RefreshInfo(ctx, addr, watched); err != nil {
			p.log.Warn("mature refresh failed",
				zap.String("addr", addr.String()), zap.Error(err))
		}
		fresh[h.AddrPK] = addr.Info

		addr.BlockH = ref.Height
		if err := store.UpdateAddrInfo(ctx, addr); err != nil {
			return err
		}
	}

	var res *db.BlockSSEResult
	err = p.dbc.WithTx(ctx, func(s *db.Store) error {
		if err := s.UpdateBlockConf(ctx, ref.PKID, conf); err != nil {
			return err
		}
		for _, h := range hists {
			info, ok := fresh[h.AddrPK]
			if !ok {
				info = h.InfoNew
			}
			h.InfoOld = h.InfoNew
			h.InfoNew = info
			if err := s.UpdateAddrHistInfo(ctx, h); err != nil {
				return err
			}
		}
		r, err := s.BuildBlockSSEResult(ctx, db.BlockEventMature, ref.PKID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := p.dbc.AppendBlockEvent(ctx, res); err != nil {
		return err
	}
	p.met.BlocksMatured.Inc()
	p.met.EventsEnqueued.Inc()
	p.log.Info("block matured", zap.Int64("height", ref.Height))
	return nil
}
