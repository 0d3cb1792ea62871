package hyrpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

func TestWrapErrorHTTPStatus(t *testing.T) {
	err := wrapError("getblockhash", rpc.HTTPError{
		StatusCode: 401,
		Status:     "401 Unauthorized",
		Body:       []byte(`{"error": {"code": -32600, "message": "unauthorized"}}`),
	})

	re, ok := AsRPCError(err)
	if !ok {
		t.Fatalf("wrapError did not produce an RPCError: %v", err)
	}
	if re.Status != 401 {
		t.Errorf("Status = %d, want 401", re.Status)
	}
	if re.Code != -32600 {
		t.Errorf("Code = %d, want -32600", re.Code)
	}
	if re.Message != "unauthorized" {
		t.Errorf("Message = %q", re.Message)
	}
	if re.Method != "getblockhash" {
		t.Errorf("Method = %q", re.Method)
	}
}

func TestWrapErrorPlain(t *testing.T) {
	err := wrapError("getinfo", errors.New("connection refused"))

	re, ok := AsRPCError(err)
	if !ok {
		t.Fatal("plain errors must still wrap")
	}
	if re.Status != 0 || re.Code != 0 {
		t.Errorf("unexpected classification: %+v", re)
	}
	if !re.Transient() {
		t.Error("transport failure should be transient")
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{0, true},
		{200, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{500, true},
		{502, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			e := &RPCError{Status: tt.status}
			if got := e.Transient(); got != tt.want {
				t.Errorf("Transient(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestAsRPCErrorWrapped(t *testing.T) {
	inner := &RPCError{Method: "callcontract", Status: 500}
	err := fmt.Errorf("probe: %w", inner)

	re, ok := AsRPCError(err)
	if !ok || re.Method != "callcontract" {
		t.Errorf("AsRPCError failed to unwrap: %v %v", re, ok)
	}

	if _, ok := AsRPCError(errors.New("other")); ok {
		t.Error("AsRPCError matched a non-RPC error")
	}
}
