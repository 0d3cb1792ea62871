package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hydraverse/db/db"
)

type creditCall struct {
	pkid int64
	at   time.Time
}

type fakeHistStore struct {
	nextPK  int64
	updated []int64
	hists   []*db.AddrHist
	snaps   []*db.UserAddrHist
	credits []creditCall
}

func (f *fakeHistStore) UpdateAddrInfo(_ context.Context, a *db.Addr) error {
	f.updated = append(f.updated, a.PKID)
	return nil
}

func (f *fakeHistStore) InsertAddrHist(_ context.Context, h *db.AddrHist) error {
	f.nextPK++
	h.PKID = f.nextPK
	f.hists = append(f.hists, h)
	return nil
}

func (f *fakeHistStore) InsertUserAddrHist(_ context.Context, h *db.UserAddrHist) error {
	cp := *h
	f.snaps = append(f.snaps, &cp)
	return nil
}

func (f *fakeHistStore) CreditMinedBlock(_ context.Context, pkid int64, at time.Time) error {
	f.credits = append(f.credits, creditCall{pkid: pkid, at: at})
	return nil
}

const testMiner = "HMinerWalletAddress00000000000000"

func histBlock() *db.Block {
	return &db.Block{
		PKID:   5,
		Height: 1000,
		Hash:   "aa",
		Info:   db.JSONMap{"miner": testMiner, "time": float64(1700000000)},
	}
}

func TestWriteHistoriesSnapshotsBeforeCredit(t *testing.T) {
	lastMined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ua := &db.UserAddr{PKID: 9, UserPK: 1, AddrPK: 3, Name: "Brisk Amber Heron", BlockT: &lastMined, BlockC: 3}

	f := &fakeHistStore{}
	n, err := writeHistories(context.Background(), f, histBlock(), []*touchedAddr{{
		addr:    &db.Addr{PKID: 3, Type: db.AddrTypeHydra, Hy: testMiner, Info: db.JSONMap{"balance": "20"}},
		infoOld: db.JSONMap{"balance": "10"},
		changed: true,
		subs:    []*db.UserAddr{ua},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("history count = %d, want 1", n)
	}

	if len(f.hists) != 1 || !f.hists[0].Mined || f.hists[0].BlockPK != 5 || f.hists[0].AddrPK != 3 {
		t.Fatalf("addr hist = %+v", f.hists)
	}

	// The snapshot keeps the counters as they stood before the credit.
	if len(f.snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(f.snaps))
	}
	snap := f.snaps[0]
	if snap.UserAddrPK != 9 || snap.AddrHistPK != f.hists[0].PKID {
		t.Errorf("snapshot links = %+v", snap)
	}
	if snap.BlockC != 3 || snap.BlockT == nil || !snap.BlockT.Equal(lastMined) {
		t.Errorf("snapshot counters = c=%d t=%v, want c=3 t=%v", snap.BlockC, snap.BlockT, lastMined)
	}

	if len(f.credits) != 1 || f.credits[0].pkid != 9 {
		t.Fatalf("credits = %+v, want one for subscription 9", f.credits)
	}
	if want := time.Unix(1700000000, 0).UTC(); !f.credits[0].at.Equal(want) {
		t.Errorf("credit time = %v, want %v", f.credits[0].at, want)
	}
}

func TestWriteHistoriesNonMinerNoCredit(t *testing.T) {
	ua := &db.UserAddr{PKID: 9, UserPK: 1, AddrPK: 3, BlockC: 3}

	f := &fakeHistStore{}
	n, err := writeHistories(context.Background(), f, histBlock(), []*touchedAddr{{
		addr: &db.Addr{PKID: 3, Type: db.AddrTypeHydra, Hy: "HOtherWalletAddress00000000000000"},
		subs: []*db.UserAddr{ua},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("history count = %d, want 1", n)
	}
	if len(f.hists) != 1 || f.hists[0].Mined {
		t.Errorf("addr hist = %+v, want not mined", f.hists)
	}
	if len(f.snaps) != 1 {
		t.Errorf("snapshots = %d, want 1", len(f.snaps))
	}
	if len(f.credits) != 0 {
		t.Errorf("credits = %+v, want none", f.credits)
	}
}

func TestWriteHistoriesSkipsUnsubscribedAddr(t *testing.T) {
	f := &fakeHistStore{}
	n, err := writeHistories(context.Background(), f, histBlock(), []*touchedAddr{{
		addr:    &db.Addr{PKID: 3, Type: db.AddrTypeHydra, Hy: testMiner},
		changed: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("history count = %d, want 0", n)
	}
	// The refreshed state is still written back, but no history rows.
	if len(f.updated) != 1 || f.updated[0] != 3 {
		t.Errorf("updated = %v, want [3]", f.updated)
	}
	if len(f.hists) != 0 || len(f.snaps) != 0 || len(f.credits) != 0 {
		t.Errorf("unexpected rows: hists=%d snaps=%d credits=%d",
			len(f.hists), len(f.snaps), len(f.credits))
	}
}

type restoredCounter struct {
	pkid   int64
	blockT *time.Time
	blockC int64
}

type fakeRewindStore struct {
	snaps      []*db.UserAddrHist
	restoreErr error

	restored []restoredCounter
	deleted  []int64
}

func (f *fakeRewindStore) UserAddrHistByBlock(_ context.Context, blockPK int64) ([]*db.UserAddrHist, error) {
	return f.snaps, nil
}

func (f *fakeRewindStore) RestoreMinedCounters(_ context.Context, pkid int64, blockT *time.Time, blockC int64) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, restoredCounter{pkid: pkid, blockT: blockT, blockC: blockC})
	return nil
}

func (f *fakeRewindStore) DeleteBlock(_ context.Context, pkid int64) error {
	f.deleted = append(f.deleted, pkid)
	return nil
}

func TestRestoreCountersRewindsSnapshots(t *testing.T) {
	lastMined := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeRewindStore{snaps: []*db.UserAddrHist{
		{UserAddrPK: 9, BlockT: &lastMined, BlockC: 3},
		{UserAddrPK: 12, BlockT: nil, BlockC: 0},
	}}

	if err := restoreCounters(context.Background(), f, 5); err != nil {
		t.Fatal(err)
	}

	if len(f.restored) != 2 {
		t.Fatalf("restored = %+v, want 2 entries", f.restored)
	}
	if r := f.restored[0]; r.pkid != 9 || r.blockC != 3 || r.blockT == nil || !r.blockT.Equal(lastMined) {
		t.Errorf("restored[0] = %+v", r)
	}
	if r := f.restored[1]; r.pkid != 12 || r.blockC != 0 || r.blockT != nil {
		t.Errorf("restored[1] = %+v", r)
	}
	if len(f.deleted) != 1 || f.deleted[0] != 5 {
		t.Errorf("deleted = %v, want [5]", f.deleted)
	}
}

func TestRestoreCountersStopsOnError(t *testing.T) {
	boom := errors.New("restore failed")
	f := &fakeRewindStore{
		snaps:      []*db.UserAddrHist{{UserAddrPK: 9, BlockC: 3}},
		restoreErr: boom,
	}

	if err := restoreCounters(context.Background(), f, 5); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(f.deleted) != 0 {
		t.Errorf("block deleted despite failed restore: %v", f.deleted)
	}
}
