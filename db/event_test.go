package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeQuerier records every statement it is handed, standing in for a
// single transaction scope.
type fakeQuerier struct {
	nextID int64
	rows   []*Event
	stmts  []string
	args   [][]any
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.stmts = append(f.stmts, sql)
	f.args = append(f.args, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.stmts = append(f.stmts, sql)
	f.args = append(f.args, args)
	return &fakeEventRows{events: f.rows}, nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.stmts = append(f.stmts, sql)
	f.args = append(f.args, args)
	return idRow{id: f.nextID}
}

type idRow struct{ id int64 }

func (r idRow) Scan(dest ...any) error {
	*(dest[0].(*int64)) = r.id
	return nil
}

type fakeEventRows struct {
	events []*Event
	i      int
}

func (r *fakeEventRows) Close()                                       {}
func (r *fakeEventRows) Err() error                                   { return nil }
func (r *fakeEventRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeEventRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeEventRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeEventRows) RawValues() [][]byte                          { return nil }
func (r *fakeEventRows) Conn() *pgx.Conn                              { return nil }

var _ pgx.Rows = (*fakeEventRows)(nil)

func (r *fakeEventRows) Next() bool {
	r.i++
	return r.i <= len(r.events)
}

func (r *fakeEventRows) Scan(dest ...any) error {
	e := r.events[r.i-1]
	*(dest[0].(*int64)) = e.ID
	*(dest[1].(*time.Time)) = e.DateCreate
	*(dest[2].(*time.Time)) = e.DateExpire
	*(dest[3].(*string)) = e.Kind
	*(dest[4].(*[]string)) = e.Claim
	*(dest[5].(*string)) = e.Data
	return nil
}

func TestAppendBlockEventStampsQueueID(t *testing.T) {
	fq := &fakeQuerier{nextID: 42}
	st := &Store{q: fq}

	res := &BlockSSEResult{
		Event: BlockEventCreate,
		Block: &BlockResult{PKID: 7, Height: 1000, Hash: "aa"},
	}
	id, err := st.appendBlockEvent(context.Background(), res)
	if err != nil {
		t.Fatal(err)
	}
	if id != 42 || res.ID != 42 {
		t.Fatalf("id = %d, res.ID = %d, want 42", id, res.ID)
	}

	// Purge, insert, payload write, in that order, all on one scope.
	if len(fq.stmts) != 3 {
		t.Fatalf("statements = %d, want 3", len(fq.stmts))
	}
	if !strings.Contains(fq.stmts[1], "INSERT INTO event") {
		t.Errorf("second statement = %q", fq.stmts[1])
	}
	if !strings.Contains(fq.stmts[2], "UPDATE event SET data") {
		t.Errorf("last statement = %q", fq.stmts[2])
	}
	data, _ := fq.args[2][1].(string)
	if !strings.Contains(data, `"id":42`) {
		t.Errorf("payload missing queue id: %q", data)
	}
}

func TestClaimEventsReturnsIDOrder(t *testing.T) {
	// RETURNING hands rows back in update order, not id order.
	fq := &fakeQuerier{rows: []*Event{
		{ID: 3, Kind: EventBlock, Claim: []string{"10.0.0.1"}, Data: `{"id":3}`},
		{ID: 1, Kind: EventBlock, Claim: []string{"10.0.0.1"}, Data: `{"id":1}`},
		{ID: 2, Kind: EventBlock, Claim: []string{"10.0.0.1"}, Data: `{"id":2}`},
	}}
	st := &Store{q: fq}

	out, err := st.ClaimEvents(context.Background(), EventBlock, "10.0.0.1", 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("claimed %d events, want 3", len(out))
	}
	for i, want := range []int64{1, 2, 3} {
		if out[i].ID != want {
			t.Errorf("out[%d].ID = %d, want %d", i, out[i].ID, want)
		}
	}
}
