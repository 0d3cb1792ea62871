// Package explorer is a typed façade over the Hydra explorer HTTP API.
package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	mainnetBase = "https://explorer.hydrachain.org/api"
	testnetBase = "https://testexplorer.hydrachain.org/api"
)

// ErrNotIndexed signals a 404 for a block the explorer has not indexed
// yet. It is recoverable: the caller retries until the explorer catches
// up with the node.
var ErrNotIndexed = errors.New("explorer: not yet indexed")

// Client queries the explorer REST API. Payloads are kept as opaque
// documents; the store persists them without interpreting most fields.
type Client struct {
	base string
	hc   *http.Client
}

func New(mainnet bool) *Client {
	base := mainnetBase
	if !mainnet {
		base = testnetBase
	}
	return NewWithBase(base)
}

func NewWithBase(base string) *Client {
	return &Client{
		base: base,
		hc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// GetBlock fetches a block by height or hash.
func (c *Client) GetBlock(ctx context.Context, ref string) (map[string]any, error) {
	var block map[string]any
	if err := c.get(ctx, "/block/"+ref, &block); err != nil {
		return nil, err
	}
	return block, nil
}

func (c *Client) GetTx(ctx context.Context, txid string) (map[string]any, error) {
	var tx map[string]any
	if err := c.get(ctx, "/tx/"+txid, &tx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) GetAddress(ctx context.Context, hyAddr string) (map[string]any, error) {
	var info map[string]any
	if err := c.get(ctx, "/address/"+hyAddr, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) GetContract(ctx context.Context, hexAddr string) (map[string]any, error) {
	var info map[string]any
	if err := c.get(ctx, "/contract/"+hexAddr, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("explorer: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("explorer: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("explorer: GET %s: %w", path, ErrNotIndexed)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("explorer: GET %s: status %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("explorer: GET %s: decode: %w", path, err)
	}
	return nil
}
