// Package ingest drives the chain-following pipeline: polling the node
// for new blocks, correlating them against subscribed addresses,
// persisting the deltas, and tracking confirmations until maturity.
package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
	"github.com/Hydraverse/db/explorer"
	"github.com/Hydraverse/db/hyrpc"
)

const (
	// DefaultPollInterval is the idle delay between chain tip checks.
	DefaultPollInterval = 15 * time.Second

	retryNotIndexed = 10 * time.Second
	retryRPC        = 30 * time.Second
	retryDecode     = 60 * time.Second
	retryIntegrity  = time.Second
)

// errNoHist aborts the block transaction when no subscribed address was
// touched; the block is not kept and no event is emitted.
var errNoHist = errors.New("ingest: block touched no subscribed address")

var errBlockMismatch = errors.New("ingest: explorer block does not match requested height and hash")

// Pipeline is the single-producer ingestion worker. It is not safe for
// concurrent use; exactly one Run loop owns it.
type Pipeline struct {
	node *hyrpc.Client
	exp  *explorer.Client
	dbc  *db.DB
	reg  *db.Registry
	log  *zap.Logger
	met  *Metrics

	poll time.Duration

	localHeight int64
	localHash   string
}

func New(node *hyrpc.Client, exp *explorer.Client, dbc *db.DB, reg *db.Registry, logger *zap.Logger, met *Metrics) *Pipeline {
	return &Pipeline{
		node: node,
		exp:  exp,
		dbc:  dbc,
		reg:  reg,
		log:  logger.Named("ingest"),
		met:  met,
		poll: DefaultPollInterval,
	}
}

// SetPollInterval overrides the tip polling cadence.
func (p *Pipeline) SetPollInterval(d time.Duration) {
	p.poll = d
}

// Run recovers local chain state and follows the tip until the context
// ends. RPC failures inside a pass are logged and retried on the next
// tick; only cancellation stops the loop.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.recoverState(ctx); err != nil {
		return err
	}
	p.log.Info("pipeline started",
		zap.Int64("height", p.localHeight), zap.String("hash", p.localHash))

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if err := p.pass(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("ingestion pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// recoverState derives localHeight/localHash from the highest stored
// block, or from one behind the chain tip on an empty store.
func (p *Pipeline) recoverState(ctx context.Context) error {
	tip, err := p.dbc.Store().TipBlock(ctx)
	if err != nil {
		return err
	}
	if tip != nil {
		p.localHeight, p.localHash = tip.Height, tip.Hash
		return nil
	}

	chainHeight, err := p.node.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	hash, err := p.node.GetBlockHash(ctx, chainHeight-1)
	if err != nil {
		return err
	}
	p.localHeight, p.localHash = chainHeight-1, hash
	return nil
}

// pass ingests every height the node has that we do not, then runs the
// confirmation sweep if anything changed.
func (p *Pipeline) pass(ctx context.Context) error {
	started := time.Now()

	chainHeight, err := p.node.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	chainHash, err := p.node.GetBlockHash(ctx, chainHeight)
	if err != nil {
		return err
	}
	p.met.ChainHeight.Set(float64(chainHeight))

	if chainHeight == p.localHeight && chainHash == p.localHash {
		return nil
	}

	for h := p.localHeight + 1; h <= chainHeight; h++ {
		if err := p.MakeBlock(ctx, h, chainHeight, ""); err != nil {
			return err
		}
	}
	p.localHeight, p.localHash = chainHeight, chainHash
	p.met.LocalHeight.Set(float64(chainHeight))

	if err := p.sweep(ctx); err != nil {
		return err
	}

	p.met.IngestDuration.Observe(time.Since(started).Seconds())
	return nil
}

// MakeBlock ingests one height, retrying until it succeeds or the
// context ends. forkHash, when non-empty, pins the hash to replay after
// a rewind; chainHeight < 0 means the tip is unknown and confirmations
// come from the block header instead.
func (p *Pipeline) MakeBlock(ctx context.Context, height, chainHeight int64, forkHash string) error {
	for {
		err := p.buildBlock(ctx, height, chainHeight, forkHash)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		cause, delay := classifyRetry(err)
		p.met.RetriesTotal.WithLabelValues(cause).Inc()
		p.log.Warn("block build failed, will retry",
			zap.Int64("height", height),
			zap.String("cause", cause),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func classifyRetry(err error) (string, time.Duration) {
	switch {
	case errors.Is(err, explorer.ErrNotIndexed):
		return "not-indexed", retryNotIndexed
	case db.IsUniqueViolation(err), db.IsSerializationFailure(err):
		return "integrity", retryIntegrity
	case errors.Is(err, errBlockMismatch):
		return "validation", retryDecode
	default:
		if rpcErr, ok := hyrpc.AsRPCError(err); ok && rpcErr.Transient() {
			return "rpc", retryRPC
		}
		return "decode", retryDecode
	}
}

func (p *Pipeline) buildBlock(ctx context.Context, height, chainHeight int64, forkHash string) error {
	hash := forkHash
	if hash == "" {
		var err error
		if hash, err = p.node.GetBlockHash(ctx, height); err != nil {
			return err
		}
	}

	info, txs, err := p.fetchBlock(ctx, height, hash)
	if err != nil {
		return err
	}

	conf := chainHeight - height + 1
	if chainHeight < 0 {
		header, err := p.node.GetBlockHeader(ctx, hash)
		if err != nil {
			return err
		}
		conf = header.Confirmations
	}

	var stat *db.ChainStat
	if height == chainHeight {
		if stat, err = p.gatherStat(ctx); err != nil {
			p.log.Warn("stat snapshot skipped", zap.Error(err))
			stat = nil
		}
	}

	store := p.dbc.Store()

	sets := HarvestAddresses(txs, p.log)
	matched, err := store.MatchAddrs(ctx, sets.Hex, sets.Hy)
	if err != nil {
		return err
	}

	block := &db.Block{Height: height, Hash: hash, Conf: conf, Info: info, Tx: txs}
	var res *db.BlockSSEResult

	if len(matched) > 0 {
		touched, err := p.refreshMatched(ctx, store, matched)
		if err != nil {
			return err
		}

		err = p.dbc.WithTx(ctx, func(s *db.Store) error {
			res = nil
			if err := s.InsertBlock(ctx, block); err != nil {
				return err
			}
			n, err := writeHistories(ctx, s, block, touched)
			if err != nil {
				return err
			}
			if n == 0 {
				return errNoHist
			}
			r, err := s.BuildBlockSSEResult(ctx, db.BlockEventCreate, block.PKID)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
		if err != nil && !errors.Is(err, errNoHist) {
			return err
		}
	}

	if stat != nil {
		if err := store.InsertStat(ctx, height, hash, stat); err != nil {
			p.log.Warn("stat snapshot write failed", zap.Error(err))
		}
	}

	if res == nil {
		p.met.BlocksSkipped.Inc()
		p.log.Debug("block skipped", zap.Int64("height", height))
		return nil
	}

	if _, err := p.dbc.AppendBlockEvent(ctx, res); err != nil {
		return err
	}
	p.met.BlocksIngested.Inc()
	p.met.EventsEnqueued.Inc()
	p.log.Info("block ingested",
		zap.Int64("height", height),
		zap.String("hash", hash),
		zap.Int("hist", len(res.Hist)))
	return nil
}

// fetchBlock pulls the enriched block and its transactions from the
// explorer and checks they describe the requested (height, hash) pair.
func (p *Pipeline) fetchBlock(ctx context.Context, height int64, hash string) (db.JSONMap, []db.JSONMap, error) {
	info, err := p.exp.GetBlock(ctx, hash)
	if err != nil {
		return nil, nil, err
	}

	gotHash, _ := info["hash"].(string)
	gotHeight, _ := info["height"].(float64)
	if gotHash != hash || int64(gotHeight) != height {
		return nil, nil, errBlockMismatch
	}

	var txs []db.JSONMap
	for _, v := range asList(info["transactions"]) {
		txid, ok := v.(string)
		if !ok {
			continue
		}
		tx, err := p.exp.GetTx(ctx, txid)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
	}

	// The stored info never carries the moving confirmation count.
	delete(info, "confirmations")
	delete(info, "transactions")
	return info, txs, nil
}

// touchedAddr pairs a matched address with its refreshed state, fetched
// before the block transaction opens.
type touchedAddr struct {
	addr    *db.Addr
	infoOld db.JSONMap
	changed bool
	subs    []*db.UserAddr
}

func (p *Pipeline) refreshMatched(ctx context.Context, store *db.Store, matched []*db.Addr) ([]*touchedAddr, error) {
	var out []*touchedAddr
	for _, addr := range matched {
		subs, err := store.UserAddrsForAddr(ctx, addr.PKID)
		if err != nil {
			return nil, err
		}

		watched := make(map[string]struct{})
		for _, ua := range subs {
			for _, t := range ua.TokenL {
				watched[t] = struct{}{}
			}
		}

		t := &touchedAddr{addr: addr, infoOld: db.CloneJSON(addr.Info), subs: subs}
		changed, err := p.reg.RefreshInfo(ctx, addr, watched)
		if err != nil {
			return nil, err
		}
		t.changed = changed
		out = append(out, t)
	}
	return out, nil
}

// histStore is the slice of the storage layer the history writer needs.
// db.Store implements it; tests substitute a fake.
type histStore interface {
	UpdateAddrInfo(ctx context.Context, a *db.Addr) error
	InsertAddrHist(ctx context.Context, h *db.AddrHist) error
	InsertUserAddrHist(ctx context.Context, h *db.UserAddrHist) error
	CreditMinedBlock(ctx context.Context, pkid int64, blockTime time.Time) error
}

// writeHistories records one AddrHist per subscribed touched address,
// snapshots each subscriber's counters, and credits mined blocks. The
// snapshot row carries the counters as they stood before the credit.
func writeHistories(ctx context.Context, s histStore, block *db.Block, touched []*touchedAddr) (int, error) {
	miner := block.Miner()
	blockTime := time.Unix(block.Timestamp(), 0).UTC()

	count := 0
	for _, t := range touched {
		if t.changed {
			t.addr.BlockH = block.Height
			if err := s.UpdateAddrInfo(ctx, t.addr); err != nil {
				return 0, err
			}
		}
		if len(t.subs) == 0 {
			continue
		}

		hist := &db.AddrHist{
			BlockPK: block.PKID,
			AddrPK:  t.addr.PKID,
			InfoOld: t.infoOld,
			InfoNew: t.addr.Info,
			Mined:   t.addr.Hy == miner,
		}
		if err := s.InsertAddrHist(ctx, hist); err != nil {
			return 0, err
		}
		count++

		for _, ua := range t.subs {
			snap := &db.UserAddrHist{
				UserAddrPK: ua.PKID,
				AddrHistPK: hist.PKID,
				BlockT:     ua.BlockT,
				BlockC:     ua.BlockC,
			}
			if err := s.InsertUserAddrHist(ctx, snap); err != nil {
				return 0, err
			}
			if hist.Mined {
				if err := s.CreditMinedBlock(ctx, ua.PKID, blockTime); err != nil {
					return 0, err
				}
			}
		}
	}
	return count, nil
}

// gatherStat samples chain-wide figures from the node for the tip
// block's stat snapshot.
func (p *Pipeline) gatherStat(ctx context.Context) (*db.ChainStat, error) {
	info, err := p.node.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	mining, err := p.node.GetMiningInfo(ctx)
	if err != nil {
		return nil, err
	}
	apr, err := p.node.GetEstimatedAnnualROI(ctx)
	if err != nil {
		return nil, err
	}

	return &db.ChainStat{
		APR:         apr,
		Blocks:      info.Blocks,
		Connections: info.Connections,
		TimeOffset:  info.TimeOffset,
		BlockValue:  mining.BlockValue,
		MoneySupply: info.MoneySupply,
		BurnedCoins: info.BurnedCoins,
		NetWeight:   mining.NetStakeWeight,
		NetHashRate: mining.NetworkHashPS,
		NetDiffPoS:  mining.Difficulty.ProofOfStake,
		NetDiffPoW:  mining.Difficulty.ProofOfWork,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
