package db

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Hydraverse/db/hyrpc"
)

// ErrInvalidAddress marks a malformed or unverifiable input address.
var ErrInvalidAddress = errors.New("invalid HYDRA or smart contract address")

// NodeCaller is the node surface the registry needs.
type NodeCaller interface {
	ValidateAddress(ctx context.Context, address string) (*hyrpc.AddressValidation, error)
	GetHexAddress(ctx context.Context, hyAddr string) (string, error)
	FromHexAddress(ctx context.Context, hexAddr string) (string, error)
	CallContract(ctx context.Context, addrHex, data string) (*hyrpc.CallResult, error)
}

// ExplorerSource is the explorer surface the registry needs.
type ExplorerSource interface {
	GetAddress(ctx context.Context, hyAddr string) (map[string]any, error)
	GetContract(ctx context.Context, hexAddr string) (map[string]any, error)
}

// ERC-20/721 selectors probed during contract classification, in call
// order, plus the NFT enumeration pair used for URI enrichment.
const (
	selName                = "06fdde03"
	selSymbol              = "95d89b41"
	selTotalSupply         = "18160ddd"
	selDecimals            = "313ce567"
	selTokenOfOwnerByIndex = "2f745c59"
	selTokenURI            = "c87b56dd"
)

// Normalized is the canonical form of an input address plus any contract
// attributes discovered while probing.
type Normalized struct {
	Type  AddrType
	Hex   string
	Hy    string
	Attrs JSONMap
}

type normKey struct {
	address string
	height  int64
}

// Registry interns addresses and owns normalisation, contract probing
// and explorer info refresh. Pure name lookups are memoised; the
// normalisation memo key includes a height hint so callers can force a
// re-probe after new blocks.
type Registry struct {
	node NodeCaller
	exp  ExplorerSource
	log  *zap.Logger

	norm  *lru.Cache[normKey, *Normalized]
	valid *lru.Cache[string, *hyrpc.AddressValidation]
	toHex *lru.Cache[string, string]
	toHy  *lru.Cache[string, string]
}

const registryCacheSize = 1 << 16

func NewRegistry(node NodeCaller, exp ExplorerSource, logger *zap.Logger) *Registry {
	norm, _ := lru.New[normKey, *Normalized](registryCacheSize)
	valid, _ := lru.New[string, *hyrpc.AddressValidation](registryCacheSize)
	toHex, _ := lru.New[string, string](registryCacheSize)
	toHy, _ := lru.New[string, string](registryCacheSize)
	return &Registry{
		node:  node,
		exp:   exp,
		log:   logger,
		norm:  norm,
		valid: valid,
		toHex: toHex,
		toHy:  toHy,
	}
}

// Validate memoises validateaddress results.
func (r *Registry) Validate(ctx context.Context, address string) (*hyrpc.AddressValidation, error) {
	if v, ok := r.valid.Get(address); ok {
		return v, nil
	}
	v, err := r.node.ValidateAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	r.valid.Add(address, v)
	return v, nil
}

func (r *Registry) hexAddress(ctx context.Context, hy string) (string, error) {
	if hx, ok := r.toHex.Get(hy); ok {
		return hx, nil
	}
	hx, err := r.node.GetHexAddress(ctx, hy)
	if err != nil {
		return "", err
	}
	r.toHex.Add(hy, hx)
	return hx, nil
}

func (r *Registry) hyAddress(ctx context.Context, hx string) (string, error) {
	if hy, ok := r.toHy.Get(hx); ok {
		return hy, nil
	}
	hy, err := r.node.FromHexAddress(ctx, hx)
	if err != nil {
		return "", err
	}
	r.toHy.Add(hx, hy)
	return hy, nil
}

// Normalize converts any input address (34-char base-36 or 40-hex) into
// its canonical pair, classifying contracts by probing the four ERC-20
// selectors. heightHint participates in the memo key only.
func (r *Registry) Normalize(ctx context.Context, address string, heightHint int64) (*Normalized, error) {
	key := normKey{address: address, height: heightHint}
	if n, ok := r.norm.Get(key); ok {
		return n, nil
	}

	tp, ok := AddrTypeByLen(address)
	if !ok {
		return nil, fmt.Errorf("%w '%s' (bad length)", ErrInvalidAddress, address)
	}

	n := &Normalized{Type: tp, Attrs: JSONMap{}}

	switch tp {
	case AddrTypeHydra:
		valid, err := r.Validate(ctx, address)
		if err != nil {
			return nil, err
		}
		if !valid.IsValid {
			return nil, fmt.Errorf("%w '%s' (validation failed)", ErrInvalidAddress, address)
		}
		n.Hy = valid.Address
		if n.Hex, err = r.hexAddress(ctx, n.Hy); err != nil {
			return nil, err
		}

	case AddrTypeSmac:
		hx, err := canonicalHex(address)
		if err != nil {
			return nil, fmt.Errorf("%w '%s' (conversion failed)", ErrInvalidAddress, address)
		}
		n.Hex = hx
		if n.Hy, err = r.hyAddress(ctx, hx); err != nil {
			return nil, err
		}
		if n.Type, n.Attrs, err = r.probeContract(ctx, hx); err != nil {
			return nil, err
		}
	}

	r.norm.Add(key, n)
	return n, nil
}

// probeContract classifies a hex address through the selector ladder:
// name() failing at RPC level means the address is not a contract at
// all; a clean exception chain decides wallet/contract/token/NFT.
func (r *Registry) probeContract(ctx context.Context, hx string) (AddrType, JSONMap, error) {
	attrs := JSONMap{}

	res, err := r.node.CallContract(ctx, hx, selName)
	if err != nil || res.Excepted() {
		// Not a contract, or one that refuses name(): treat the hex as
		// a plain wallet address.
		return AddrTypeHydra, attrs, nil
	}

	tp := AddrTypeSmac
	attrs["name"] = decodeStringOutput(res.ExecutionResult.Output)

	if res, err = r.node.CallContract(ctx, hx, selSymbol); err != nil {
		return "", nil, err
	}
	if !res.Excepted() {
		attrs["symbol"] = decodeStringOutput(res.ExecutionResult.Output)

		if res, err = r.node.CallContract(ctx, hx, selTotalSupply); err != nil {
			return "", nil, err
		}
		if !res.Excepted() {
			attrs["totalSupply"] = decodeIntOutput(res.ExecutionResult.Output).String()

			if res, err = r.node.CallContract(ctx, hx, selDecimals); err != nil {
				return "", nil, err
			}
			if !res.Excepted() {
				attrs["decimals"] = decodeIntOutput(res.ExecutionResult.Output).Int64()
				tp = AddrTypeToken
			} else {
				// NFT contracts have no decimals().
				tp = AddrTypeNFT
			}
		}
	}

	return tp, attrs, nil
}

// Get interns the address, creating and probing it when asked to.
func (r *Registry) Get(ctx context.Context, s *Store, address string, create bool, heightHint int64) (*Addr, error) {
	n, err := r.Normalize(ctx, address, heightHint)
	if err != nil {
		return nil, err
	}

	addr, err := s.AddrByHex(ctx, n.Hex)
	if err != nil || addr != nil || !create {
		return addr, err
	}

	addr = &Addr{Type: n.Type, Hex: n.Hex, Hy: n.Hy, Info: CloneJSON(n.Attrs)}
	if _, err := r.refreshInfo(ctx, addr, nil); err != nil {
		r.log.Warn("addr info fetch failed on create",
			zap.String("addr", addr.String()), zap.Error(err))
	}
	if err := s.InsertAddr(ctx, addr); err != nil {
		return nil, err
	}
	return addr, nil
}

// UpdateInfo refreshes the address's explorer record and writes it back
// only when it differs from the stored document. keepTokens is the union
// of the subscribers' watched token contracts; balance entries for those
// survive the volatile-field strip, and retained NFT balances gain
// per-token URIs.
func (r *Registry) UpdateInfo(ctx context.Context, s *Store, addr *Addr, keepTokens map[string]struct{}) (bool, error) {
	changed, err := r.refreshInfo(ctx, addr, keepTokens)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	return true, s.UpdateAddrInfo(ctx, addr)
}

// RefreshInfo re-fetches the explorer record into addr.Info without
// touching storage. Callers running under a transaction use this first
// and persist the result inside the transaction, keeping RPC out of it.
func (r *Registry) RefreshInfo(ctx context.Context, addr *Addr, keepTokens map[string]struct{}) (bool, error) {
	return r.refreshInfo(ctx, addr, keepTokens)
}

func (r *Registry) refreshInfo(ctx context.Context, addr *Addr, keepTokens map[string]struct{}) (bool, error) {
	var (
		info JSONMap
		err  error
	)
	if addr.Type == AddrTypeHydra {
		info, err = r.exp.GetAddress(ctx, addr.Hy)
	} else {
		info, err = r.exp.GetContract(ctx, addr.Hex)
	}
	if err != nil {
		return false, err
	}

	if addr.Type != AddrTypeHydra {
		delete(info, "addressHex")
	}

	r.stripVolatile(ctx, addr, info, keepTokens)

	if DeepEqualJSON(addr.Info, info) {
		return false, nil
	}
	addr.Info = info
	return true, nil
}

// stripVolatile drops the balance sub-records the chain rewrites every
// block, keeping (and enriching) only entries for watched tokens.
func (r *Registry) stripVolatile(ctx context.Context, addr *Addr, info JSONMap, keepTokens map[string]struct{}) {
	if q20 := filterTokenBalances(info["qrc20Balances"], keepTokens); len(q20) > 0 {
		info["qrc20Balances"] = q20
	} else {
		delete(info, "qrc20Balances")
	}

	nfts := filterTokenBalances(info["qrc721Balances"], keepTokens)
	if len(nfts) == 0 {
		delete(info, "qrc721Balances")
	} else {
		for _, entry := range nfts {
			if m, ok := entry.(JSONMap); ok {
				r.enrichNFTBalance(ctx, addr, m)
			}
		}
		info["qrc721Balances"] = nfts
	}

	// Static contract metadata is held on the addr row already.
	if q20, ok := info["qrc20"].(JSONMap); ok {
		delete(q20, "name")
		delete(q20, "symbol")
		delete(q20, "decimals")
		delete(q20, "totalSupply")
	}
	delete(info, "qrc721")
}

func filterTokenBalances(v any, keep map[string]struct{}) []any {
	list, ok := v.([]any)
	if !ok || len(keep) == 0 {
		return nil
	}
	var out []any
	for _, entry := range list {
		m, ok := entry.(JSONMap)
		if !ok {
			continue
		}
		hx, _ := m["addressHex"].(string)
		if _, watched := keep[hx]; watched {
			out = append(out, m)
		}
	}
	return out
}

// enrichNFTBalance resolves a URI per held token index through
// tokenOfOwnerByIndex + tokenURI.
func (r *Registry) enrichNFTBalance(ctx context.Context, owner *Addr, entry JSONMap) {
	tokenHex, _ := entry["addressHex"].(string)
	count := int64(0)
	if c, ok := entry["count"].(float64); ok {
		count = int64(c)
	}
	if tokenHex == "" || count <= 0 {
		return
	}

	uris := make([]any, 0, count)
	for i := int64(0); i < count; i++ {
		res, err := r.node.CallContract(ctx, tokenHex,
			selTokenOfOwnerByIndex+abiAddress(owner.Hex)+abiUint(big.NewInt(i)))
		if err != nil || res.Excepted() {
			continue
		}
		tokenID, ok := new(big.Int).SetString(res.ExecutionResult.Output, 16)
		if !ok {
			continue
		}
		res, err = r.node.CallContract(ctx, tokenHex, selTokenURI+abiUint(tokenID))
		if err != nil || res.Excepted() {
			continue
		}
		uris = append(uris, decodeStringOutput(res.ExecutionResult.Output))
	}
	if len(uris) > 0 {
		entry["uris"] = uris
	}
}

// canonicalHex lower-cases and left-pads a hex address to 40 chars,
// rejecting non-hex input.
func canonicalHex(address string) (string, error) {
	s := strings.ToLower(strings.TrimPrefix(address, "0x"))
	if _, err := hex.DecodeString(s); err != nil {
		return "", err
	}
	s = strings.TrimLeft(s, "0")
	if len(s) > hexAddrLen {
		return "", fmt.Errorf("hex address too long")
	}
	return strings.Repeat("0", hexAddrLen-len(s)) + s, nil
}

// decodeStringOutput extracts the string payload of an ABI-encoded
// return value: skip offset+length words, unhexlify, drop NUL padding.
func decodeStringOutput(output string) string {
	if len(output) <= 128 {
		return ""
	}
	raw, err := hex.DecodeString(output[128:])
	if err != nil {
		return ""
	}
	return string(bytesTrimNUL(raw))
}

func decodeIntOutput(output string) *big.Int {
	n, ok := new(big.Int).SetString(output, 16)
	if !ok {
		return new(big.Int)
	}
	return n
}

func bytesTrimNUL(b []byte) []byte {
	out := b[:0]
	for _, c := range b {
		if c != 0 {
			out = append(out, c)
		}
	}
	return out
}

func abiAddress(hx string) string {
	return strings.Repeat("0", 64-len(hx)) + hx
}

func abiUint(n *big.Int) string {
	s := n.Text(16)
	return strings.Repeat("0", 64-len(s)) + s
}
