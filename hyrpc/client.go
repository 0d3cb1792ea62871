// Package hyrpc is a typed façade over the Hydra node's JSON-RPC API.
package hyrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// Client wraps a JSON-RPC connection to a Hydra node. The node speaks
// the bitcoind-style positional-parameter dialect, which the underlying
// client handles transparently.
type Client struct {
	rpc *rpc.Client
	url string
}

func Dial(ctx context.Context, url string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("hyrpc: dial %s: %w", url, err)
	}
	return &Client{rpc: rc, url: url}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) URL() string { return c.url }

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return wrapError(method, err)
	}
	return nil
}

// BlockHeader is the subset of getblockheader the pipeline relies on.
type BlockHeader struct {
	Hash          string `json:"hash"`
	Height        int64  `json:"height"`
	Confirmations int64  `json:"confirmations"`
	Time          int64  `json:"time"`
	PrevBlockHash string `json:"previousblockhash"`
}

// AddressValidation is the result of validateaddress.
type AddressValidation struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
}

// ExecutionResult carries the EVM call outcome of callcontract.
// Excepted is "None" when the call did not revert.
type ExecutionResult struct {
	Excepted string `json:"excepted"`
	Output   string `json:"output"`
}

// CallResult is the result of callcontract.
type CallResult struct {
	ExecutionResult ExecutionResult `json:"executionResult"`
}

// Excepted reports whether the contract call reverted or threw.
func (r *CallResult) Excepted() bool {
	return r.ExecutionResult.Excepted != "None"
}

// NodeInfo is the subset of getinfo consumed by the stat snapshot.
type NodeInfo struct {
	Blocks      int64   `json:"blocks"`
	Connections int64   `json:"connections"`
	TimeOffset  int64   `json:"timeoffset"`
	MoneySupply float64 `json:"moneysupply"`
	BurnedCoins float64 `json:"burnedcoins"`
}

// MiningInfo is the subset of getmininginfo consumed by the stat snapshot.
type MiningInfo struct {
	BlockValue     float64 `json:"blockvalue"`
	NetStakeWeight float64 `json:"netstakeweight"`
	NetworkHashPS  float64 `json:"networkhashps"`
	Difficulty     struct {
		ProofOfStake float64 `json:"proof-of-stake"`
		ProofOfWork  float64 `json:"proof-of-work"`
	} `json:"difficulty"`
}

func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	err := c.call(ctx, &height, "getblockcount")
	return height, err
}

func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	err := c.call(ctx, &hash, "getblockhash", height)
	return hash, err
}

func (c *Client) GetBlockHeader(ctx context.Context, hash string) (*BlockHeader, error) {
	var hdr BlockHeader
	if err := c.call(ctx, &hdr, "getblockheader", hash); err != nil {
		return nil, err
	}
	return &hdr, nil
}

// GetBlock fetches a block at the given verbosity as an opaque document;
// the store persists it without interpreting most of the fields.
func (c *Client) GetBlock(ctx context.Context, hash string, verbosity int) (map[string]any, error) {
	var info map[string]any
	if err := c.call(ctx, &info, "getblock", hash, verbosity); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) GetRawTransaction(ctx context.Context, txid string) (string, error) {
	var raw string
	err := c.call(ctx, &raw, "getrawtransaction", txid, false)
	return raw, err
}

func (c *Client) DecodeRawTransaction(ctx context.Context, raw string) (map[string]any, error) {
	var tx map[string]any
	if err := c.call(ctx, &tx, "decoderawtransaction", raw, true); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) SearchLogs(ctx context.Context, from, to int64) ([]map[string]any, error) {
	var logs []map[string]any
	if err := c.call(ctx, &logs, "searchlogs", from, to); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) CallContract(ctx context.Context, addrHex, data string) (*CallResult, error) {
	var res CallResult
	if err := c.call(ctx, &res, "callcontract", addrHex, data); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (*AddressValidation, error) {
	var v AddressValidation
	if err := c.call(ctx, &v, "validateaddress", address); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) GetHexAddress(ctx context.Context, hyAddr string) (string, error) {
	var hx string
	err := c.call(ctx, &hx, "gethexaddress", hyAddr)
	return hx, err
}

func (c *Client) FromHexAddress(ctx context.Context, hexAddr string) (string, error) {
	var hy string
	err := c.call(ctx, &hy, "fromhexaddress", hexAddr)
	return hy, err
}

func (c *Client) GetInfo(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := c.call(ctx, &info, "getinfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetMiningInfo(ctx context.Context) (*MiningInfo, error) {
	var info MiningInfo
	if err := c.call(ctx, &info, "getmininginfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetEstimatedAnnualROI(ctx context.Context) (float64, error) {
	var apr float64
	err := c.call(ctx, &apr, "getestimatedannualroi", true)
	return apr, err
}

// Mainnet reports which chain the node is on, via getblockchaininfo.
func (c *Client) Mainnet(ctx context.Context) (bool, error) {
	var info struct {
		Chain string `json:"chain"`
	}
	if err := c.call(ctx, &info, "getblockchaininfo"); err != nil {
		return false, err
	}
	return info.Chain == "main", nil
}

// RPCError is a typed node failure carrying the HTTP status (when the
// transport reported one) and the node's error payload.
type RPCError struct {
	Method  string
	Status  int
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("hyrpc: %s: http %d: %s", e.Method, e.Status, e.Message)
	}
	return fmt.Sprintf("hyrpc: %s: code %d: %s", e.Method, e.Code, e.Message)
}

// Transient reports whether a retry can be expected to succeed.
// Authentication and bad-request failures are configuration problems and
// surface to the operator instead.
func (e *RPCError) Transient() bool {
	switch e.Status {
	case 400, 401, 403, 404:
		return false
	}
	return true
}

func wrapError(method string, err error) error {
	re := &RPCError{Method: method, Message: err.Error()}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		re.Status = httpErr.StatusCode
		if len(httpErr.Body) > 0 {
			var body struct {
				Error struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if json.Unmarshal(httpErr.Body, &body) == nil && body.Error.Message != "" {
				re.Code = body.Error.Code
				re.Message = body.Error.Message
			}
		}
		return re
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		re.Code = rpcErr.ErrorCode()
	}
	return re
}

// AsRPCError unwraps err to an *RPCError when possible.
func AsRPCError(err error) (*RPCError, bool) {
	var re *RPCError
	ok := errors.As(err, &re)
	return re, ok
}
