package ingest

import (
	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
)

// AddressSets is the harvest outcome split by address form.
type AddressSets struct {
	Hy  []string
	Hex []string
}

// HarvestAddresses extracts every address a batch of explorer-enriched
// transactions touches: input and output script addresses in both
// forms, receipt senders and created contracts, and the endpoints of
// QRC-20 and QRC-721 token transfers. Strings of unexpected length are
// logged and dropped.
func HarvestAddresses(txs []db.JSONMap, log *zap.Logger) AddressSets {
	h := harvester{
		hy:  make(map[string]struct{}),
		hex: make(map[string]struct{}),
		log: log,
	}
	for _, tx := range txs {
		h.tx(tx)
	}

	var sets AddressSets
	for a := range h.hy {
		sets.Hy = append(sets.Hy, a)
	}
	for a := range h.hex {
		sets.Hex = append(sets.Hex, a)
	}
	return sets
}

type harvester struct {
	hy  map[string]struct{}
	hex map[string]struct{}
	log *zap.Logger
}

func (h *harvester) tx(tx db.JSONMap) {
	for _, side := range []string{"inputs", "outputs"} {
		for _, entry := range asList(tx[side]) {
			io, ok := entry.(db.JSONMap)
			if !ok {
				continue
			}
			h.add(io["address"])
			h.add(io["addressHex"])
			if rc, ok := io["receipt"].(db.JSONMap); ok {
				h.add(rc["sender"])
				h.add(rc["contractAddressHex"])
			}
		}
	}

	for _, kind := range []string{"qrc20TokenTransfers", "qrc721TokenTransfers"} {
		for _, entry := range asList(tx[kind]) {
			tr, ok := entry.(db.JSONMap)
			if !ok {
				continue
			}
			h.add(tr["from"])
			h.add(tr["fromHex"])
			h.add(tr["to"])
			h.add(tr["toHex"])
			h.add(tr["addressHex"])
		}
	}
}

func (h *harvester) add(v any) {
	a, ok := v.(string)
	if !ok || a == "" {
		return
	}
	switch len(a) {
	case 34:
		h.hy[a] = struct{}{}
	case 40:
		h.hex[a] = struct{}{}
	default:
		h.log.Warn("dropping address of unexpected length",
			zap.String("address", a), zap.Int("len", len(a)))
	}
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}
