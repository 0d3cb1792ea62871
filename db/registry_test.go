package db

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Hydraverse/db/hyrpc"
)

type fakeNode struct {
	valid map[string]string            // base-36 input -> canonical form
	pairs map[string]string            // hex -> base-36
	calls map[string]map[string]string // hex -> selector -> output ("!" = excepted)

	contractCalls int
}

func (f *fakeNode) ValidateAddress(_ context.Context, address string) (*hyrpc.AddressValidation, error) {
	canonical, ok := f.valid[address]
	return &hyrpc.AddressValidation{IsValid: ok, Address: canonical}, nil
}

func (f *fakeNode) GetHexAddress(_ context.Context, hyAddr string) (string, error) {
	for hx, hy := range f.pairs {
		if hy == hyAddr {
			return hx, nil
		}
	}
	return "", errors.New("unknown address")
}

func (f *fakeNode) FromHexAddress(_ context.Context, hexAddr string) (string, error) {
	hy, ok := f.pairs[hexAddr]
	if !ok {
		return "", errors.New("unknown address")
	}
	return hy, nil
}

func (f *fakeNode) CallContract(_ context.Context, addrHex, data string) (*hyrpc.CallResult, error) {
	f.contractCalls++
	sels, ok := f.calls[addrHex]
	if !ok {
		return nil, errors.New("address is not a contract")
	}
	out, ok := sels[data[:8]]
	if !ok || out == "!" {
		return &hyrpc.CallResult{ExecutionResult: hyrpc.ExecutionResult{Excepted: "Revert"}}, nil
	}
	return &hyrpc.CallResult{ExecutionResult: hyrpc.ExecutionResult{Excepted: "None", Output: out}}, nil
}

type fakeExplorer struct {
	addrs     map[string]map[string]any
	contracts map[string]map[string]any
}

func (f *fakeExplorer) GetAddress(_ context.Context, hyAddr string) (map[string]any, error) {
	if info, ok := f.addrs[hyAddr]; ok {
		return info, nil
	}
	return map[string]any{}, nil
}

func (f *fakeExplorer) GetContract(_ context.Context, hexAddr string) (map[string]any, error) {
	if info, ok := f.contracts[hexAddr]; ok {
		return info, nil
	}
	return map[string]any{}, nil
}

// abiString encodes a string return value the way callcontract reports
// it: offset word, length word, then padded data.
func abiString(s string) string {
	data := hex.EncodeToString([]byte(s))
	pad := (64 - len(data)%64) % 64
	return strings.Repeat("0", 64) + strings.Repeat("0", 64) + data + strings.Repeat("0", pad)
}

const (
	walletHy  = "TwalletAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	walletHx  = "00000000000000000000000000000000000000aa"
	tokenHx   = "00000000000000000000000000000000000000bb"
	tokenHy   = "TtokenAAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	nftHx     = "00000000000000000000000000000000000000cc"
	nftHy     = "TnftAAAAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	smacHx    = "00000000000000000000000000000000000000dd"
	smacHy    = "TsmacAAAAAAAAAAAAAAAAAAAAAAAAAAAA1"
	bareHexHx = "00000000000000000000000000000000000000ee"
	bareHexHy = "TbareAAAAAAAAAAAAAAAAAAAAAAAAAAAA1"
)

func newTestRegistry() (*Registry, *fakeNode) {
	node := &fakeNode{
		valid: map[string]string{walletHy: walletHy},
		pairs: map[string]string{
			walletHx:  walletHy,
			tokenHx:   tokenHy,
			nftHx:     nftHy,
			smacHx:    smacHy,
			bareHexHx: bareHexHy,
		},
		calls: map[string]map[string]string{
			tokenHx: {
				selName:        abiString("Hydra Token"),
				selSymbol:      abiString("HTK"),
				selTotalSupply: strings.Repeat("0", 63) + "a",
				selDecimals:    strings.Repeat("0", 63) + "8",
			},
			nftHx: {
				selName:        abiString("Hydra Art"),
				selSymbol:      abiString("HART"),
				selTotalSupply: strings.Repeat("0", 63) + "5",
				selDecimals:    "!",
			},
			smacHx: {
				selName: abiString("Some Contract"),
			},
		},
	}
	reg := NewRegistry(node, &fakeExplorer{}, zap.NewNop())
	return reg, node
}

func TestNormalizeClassification(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		address  string
		wantType AddrType
		wantHex  string
		wantHy   string
	}{
		{"wallet base36", walletHy, AddrTypeHydra, walletHx, walletHy},
		{"token contract", tokenHx, AddrTypeToken, tokenHx, tokenHy},
		{"nft contract", nftHx, AddrTypeNFT, nftHx, nftHy},
		{"plain contract", smacHx, AddrTypeSmac, smacHx, smacHy},
		{"hex wallet", bareHexHx, AddrTypeHydra, bareHexHx, bareHexHy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := reg.Normalize(ctx, tt.address, 0)
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.address, err)
			}
			if n.Type != tt.wantType {
				t.Errorf("type = %q, want %q", n.Type, tt.wantType)
			}
			if n.Hex != tt.wantHex {
				t.Errorf("hex = %q, want %q", n.Hex, tt.wantHex)
			}
			if n.Hy != tt.wantHy {
				t.Errorf("hy = %q, want %q", n.Hy, tt.wantHy)
			}
		})
	}
}

func TestNormalizeTokenAttrs(t *testing.T) {
	reg, _ := newTestRegistry()

	n, err := reg.Normalize(context.Background(), tokenHx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := n.Attrs["name"]; got != "Hydra Token" {
		t.Errorf("name = %v, want Hydra Token", got)
	}
	if got := n.Attrs["symbol"]; got != "HTK" {
		t.Errorf("symbol = %v, want HTK", got)
	}
	if got := n.Attrs["totalSupply"]; got != "10" {
		t.Errorf("totalSupply = %v, want 10", got)
	}
	if got := n.Attrs["decimals"]; got != int64(8) {
		t.Errorf("decimals = %v, want 8", got)
	}
}

func TestNormalizeRejectsBadLength(t *testing.T) {
	reg, _ := newTestRegistry()

	for _, address := range []string{"", "short", strings.Repeat("a", 35), strings.Repeat("a", 41)} {
		if _, err := reg.Normalize(context.Background(), address, 0); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Normalize(%q) err = %v, want ErrInvalidAddress", address, err)
		}
	}
}

func TestNormalizeRejectsInvalidWallet(t *testing.T) {
	reg, _ := newTestRegistry()

	bogus := strings.Repeat("x", 34)
	if _, err := reg.Normalize(context.Background(), bogus, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestNormalizeMemoisesPerHeight(t *testing.T) {
	reg, node := newTestRegistry()
	ctx := context.Background()

	if _, err := reg.Normalize(ctx, tokenHx, 100); err != nil {
		t.Fatal(err)
	}
	probed := node.contractCalls

	if _, err := reg.Normalize(ctx, tokenHx, 100); err != nil {
		t.Fatal(err)
	}
	if node.contractCalls != probed {
		t.Errorf("repeat lookup probed the node again (%d -> %d calls)", probed, node.contractCalls)
	}

	if _, err := reg.Normalize(ctx, tokenHx, 200); err != nil {
		t.Fatal(err)
	}
	if node.contractCalls == probed {
		t.Error("new height hint did not force a re-probe")
	}
}

func TestCanonicalHex(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"00000000000000000000000000000000000000AB", "00000000000000000000000000000000000000ab", false},
		{"0x00000000000000000000000000000000000000ab", "00000000000000000000000000000000000000ab", false},
		{"000000000000000000000000000000000000zzzz", "", true},
	}
	for _, tt := range tests {
		got, err := canonicalHex(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("canonicalHex(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalHex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeStringOutput(t *testing.T) {
	if got := decodeStringOutput(abiString("HTK")); got != "HTK" {
		t.Errorf("decodeStringOutput = %q, want HTK", got)
	}
	if got := decodeStringOutput(""); got != "" {
		t.Errorf("decodeStringOutput(empty) = %q, want empty", got)
	}
	if got := decodeStringOutput(strings.Repeat("0", 128)); got != "" {
		t.Errorf("decodeStringOutput(no payload) = %q, want empty", got)
	}
}
