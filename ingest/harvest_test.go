package ingest

import (
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Hydraverse/db/db"
)

const (
	wallet1 = "TwalletAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	wallet2 = "TwalletBBBBBBBBBBBBBBBBBBBBBBBBBB2"
	hex1    = "1111111111111111111111111111111111111111"
	hex2    = "2222222222222222222222222222222222222222"
	hex3    = "3333333333333333333333333333333333333333"
	hex4    = "4444444444444444444444444444444444444444"
)

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHarvestAddresses(t *testing.T) {
	txs := []db.JSONMap{
		{
			"inputs": []any{
				db.JSONMap{"address": wallet1, "addressHex": hex1},
			},
			"outputs": []any{
				db.JSONMap{"address": wallet2},
				db.JSONMap{
					"receipt": db.JSONMap{
						"sender":             wallet1,
						"contractAddressHex": hex2,
					},
				},
			},
			"qrc20TokenTransfers": []any{
				db.JSONMap{
					"from":       wallet1,
					"fromHex":    hex1,
					"to":         wallet2,
					"toHex":      hex3,
					"addressHex": hex4,
				},
			},
		},
	}

	sets := HarvestAddresses(txs, zap.NewNop())

	wantHy := []string{wallet1, wallet2}
	wantHex := []string{hex1, hex2, hex3, hex4}
	if got := sorted(sets.Hy); !equal(got, wantHy) {
		t.Errorf("Hy = %v, want %v", got, wantHy)
	}
	if got := sorted(sets.Hex); !equal(got, wantHex) {
		t.Errorf("Hex = %v, want %v", got, wantHex)
	}
}

func TestHarvestDropsOddLengths(t *testing.T) {
	txs := []db.JSONMap{
		{
			"inputs": []any{
				db.JSONMap{"address": "short"},
				db.JSONMap{"address": strings.Repeat("x", 50)},
				db.JSONMap{"address": wallet1},
			},
		},
	}

	sets := HarvestAddresses(txs, zap.NewNop())
	if len(sets.Hy) != 1 || sets.Hy[0] != wallet1 {
		t.Errorf("Hy = %v, want just %s", sets.Hy, wallet1)
	}
	if len(sets.Hex) != 0 {
		t.Errorf("Hex = %v, want empty", sets.Hex)
	}
}

func TestHarvestQRC721Transfers(t *testing.T) {
	txs := []db.JSONMap{
		{
			"qrc721TokenTransfers": []any{
				db.JSONMap{"fromHex": hex1, "toHex": hex2, "addressHex": hex3},
			},
		},
	}

	sets := HarvestAddresses(txs, zap.NewNop())
	want := []string{hex1, hex2, hex3}
	if got := sorted(sets.Hex); !equal(got, want) {
		t.Errorf("Hex = %v, want %v", got, want)
	}
}

func TestHarvestEmptyTx(t *testing.T) {
	sets := HarvestAddresses([]db.JSONMap{{}}, zap.NewNop())
	if len(sets.Hy) != 0 || len(sets.Hex) != 0 {
		t.Errorf("empty tx produced %v / %v", sets.Hy, sets.Hex)
	}
}
