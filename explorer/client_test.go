package explorer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetBlockNotIndexed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	c := NewWithBase(ts.URL)
	_, err := c.GetBlock(context.Background(), "deadbeef")
	if !errors.Is(err, ErrNotIndexed) {
		t.Errorf("err = %v, want ErrNotIndexed", err)
	}
}

func TestGetBlockDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/block/abc123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hash": "abc123", "height": 42, "transactions": ["t1"]}`))
	}))
	defer ts.Close()

	c := NewWithBase(ts.URL)
	block, err := c.GetBlock(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if block["hash"] != "abc123" || block["height"] != float64(42) {
		t.Errorf("block = %v", block)
	}
}

func TestGetTxServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewWithBase(ts.URL)
	_, err := c.GetTx(context.Background(), "txid")
	if err == nil {
		t.Fatal("want error on 500")
	}
	if errors.Is(err, ErrNotIndexed) {
		t.Error("500 must not classify as not-indexed")
	}
}

func TestBaseSelection(t *testing.T) {
	if got := New(true).base; got != mainnetBase {
		t.Errorf("mainnet base = %q", got)
	}
	if got := New(false).base; got != testnetBase {
		t.Errorf("testnet base = %q", got)
	}
}
