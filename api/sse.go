package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
)

// sseRetryMillis is the reconnect delay advertised in every frame.
const sseRetryMillis = 30000

// claimBatchSize caps how many events one gate wake drains at a time.
const claimBatchSize = 64

// EventStore is the claim surface the broadcaster reads from. The
// production implementation is db.Store; tests substitute a fake.
type EventStore interface {
	ClaimEvents(ctx context.Context, kind, claimant string, limit int) ([]*db.Event, error)
}

// SetEventStore overrides the claim source. Call before serving.
func (s *Server) SetEventStore(es EventStore) {
	s.eventsrc = es
}

func (s *Server) eventStore() EventStore {
	if s.eventsrc != nil {
		return s.eventsrc
	}
	return s.dbc.Store()
}

func (s *Server) handleSSEBlock(w http.ResponseWriter, r *http.Request) {
	s.streamBlocks(w, r, 0)
}

func (s *Server) handleSSEBlockNext(w http.ResponseWriter, r *http.Request) {
	s.streamBlocks(w, r, 1)
}

// streamBlocks is the SSE broadcast loop. The claimant identity is the
// client's remote address, so reconnecting clients resume where their
// claim set left off. A positive limit closes the stream after that
// many events.
func (s *Server) streamBlocks(w http.ResponseWriter, r *http.Request, limit int) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	claimant := claimantFor(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.hub.Subscribe(db.EventBlock)
	defer sub.Close()

	ctx := r.Context()
	es := s.eventStore()
	sent := 0

	for {
		if err := sub.Wait(ctx); err != nil {
			return
		}

		for {
			batch := claimBatchSize
			if limit > 0 && limit-sent < batch {
				batch = limit - sent
			}

			events, err := es.ClaimEvents(ctx, db.EventBlock, claimant, batch)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("event claim failed",
						zap.String("claimant", claimant), zap.Error(err))
				}
				return
			}
			if len(events) == 0 {
				break
			}

			for _, ev := range events {
				if _, err := fmt.Fprintf(w, "event: block\nretry: %d\ndata: %s\n\n",
					sseRetryMillis, ev.Data); err != nil {
					return
				}
				flusher.Flush()
				sent++
				if limit > 0 && sent >= limit {
					return
				}
			}
		}
	}
}

func claimantFor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleSSETrigger enqueues a block event for an already-stored block.
// The ingestion pipeline appends directly; this endpoint exists for
// replaying a block to consumers by hand.
func (s *Server) handleSSETrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	blockPK, _ := strconv.ParseInt(vars["block_pk"], 10, 64)
	event := vars["event"]

	store := s.dbc.Store()

	block, err := store.BlockByPK(r.Context(), blockPK)
	if err != nil {
		s.error(w, r, err)
		return
	}
	if block == nil {
		s.error(w, r, fmt.Errorf("%w: block %d", errNotFound, blockPK))
		return
	}

	var res *db.BlockSSEResult
	err = s.dbc.WithTx(r.Context(), func(st *db.Store) error {
		r2, err := st.BuildBlockSSEResult(r.Context(), event, blockPK)
		res = r2
		return err
	})
	if err != nil {
		s.error(w, r, err)
		return
	}

	if _, err := s.dbc.AppendBlockEvent(r.Context(), res); err != nil {
		s.error(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, res)
}
