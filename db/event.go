package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// EventExpiry is how long a queued event stays claimable. Consumers
// offline longer than this lose the backlog.
const EventExpiry = 18 * time.Hour

// EventBlock is the event kind carrying block create/mature payloads.
const EventBlock = "block"

// Event is one durable queue row. Data is the serialised payload;
// Claim is the set of consumer identities that already took the row.
type Event struct {
	ID         int64
	DateCreate time.Time
	DateExpire time.Time
	Kind       string
	Claim      []string
	Data       string
}

// AppendEvent enqueues a payload, purges expired rows, and returns the
// assigned id. Listeners registered on the DB are signalled after the
// row is durable.
func (s *Store) AppendEvent(ctx context.Context, kind, data string) (int64, error) {
	if _, err := s.PurgeExpiredEvents(ctx); err != nil {
		return 0, err
	}

	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO event (date_expire, event, data) VALUES (now() + $1, $2, $3)
		 RETURNING id`,
		EventExpiry, kind, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: append event %q: %w", kind, err)
	}

	s.db.notifyEventInsert(kind)
	return id, nil
}

// AppendBlockEvent enqueues a block payload whose queue id is embedded
// in the payload itself. The id draw and the payload write share one
// transaction, so the row only becomes claimable complete. Listeners
// are signalled after commit.
func (d *DB) AppendBlockEvent(ctx context.Context, res *BlockSSEResult) (int64, error) {
	var id int64
	err := d.WithTx(ctx, func(s *Store) error {
		var err error
		id, err = s.appendBlockEvent(ctx, res)
		return err
	})
	if err != nil {
		return 0, err
	}

	d.notifyEventInsert(EventBlock)
	return id, nil
}

// appendBlockEvent draws the queue id, stamps it into the result, and
// writes the serialised document. Runs inside the caller's transaction.
func (s *Store) appendBlockEvent(ctx context.Context, res *BlockSSEResult) (int64, error) {
	if _, err := s.PurgeExpiredEvents(ctx); err != nil {
		return 0, err
	}

	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO event (date_expire, event, data) VALUES (now() + $1, $2, '')
		 RETURNING id`,
		EventExpiry, EventBlock,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db: append block event: %w", err)
	}

	res.ID = id
	data, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("db: encode block event %d: %w", id, err)
	}
	if _, err := s.q.Exec(ctx, `UPDATE event SET data = $2 WHERE id = $1`, id, string(data)); err != nil {
		return 0, fmt.Errorf("db: write block event %d: %w", id, err)
	}
	return id, nil
}

// PurgeExpiredEvents drops rows past their expiry.
func (s *Store) PurgeExpiredEvents(ctx context.Context) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM event WHERE date_expire <= now()`)
	if err != nil {
		return 0, fmt.Errorf("db: purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimEvents atomically takes up to limit of the oldest unexpired rows
// of a kind not yet claimed by claimant, marking each with the
// claimant's identity. Rows are returned in id order; a row is handed
// to any given claimant at most once, ever.
//
// Plain FOR UPDATE: a claimant waiting on rows another claimant holds
// locked still receives them once that claim commits, so each claimant
// sees ids in monotonic order. Skipping locked rows here would hand the
// waiter higher ids first and the skipped ones on a later wake.
func (s *Store) ClaimEvents(ctx context.Context, kind, claimant string, limit int) ([]*Event, error) {
	rows, err := s.q.Query(ctx,
		`UPDATE event SET claim = claim || to_jsonb($2::text)
		 WHERE id IN (
			SELECT id FROM event
			WHERE event = $1 AND date_expire > now() AND NOT claim ? $2
			ORDER BY id
			LIMIT $3
			FOR UPDATE
		 )
		 RETURNING id, date_create, date_expire, event, claim, data`,
		kind, claimant, limit)
	if err != nil {
		return nil, fmt.Errorf("db: claim events %q: %w", kind, err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.DateCreate, &e.DateExpire, &e.Kind, &e.Claim, &e.Data); err != nil {
			return nil, fmt.Errorf("db: claim events scan: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING order is not guaranteed.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
