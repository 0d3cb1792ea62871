package ingest

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Hydraverse/db/db"
	"github.com/Hydraverse/db/explorer"
)

func TestDecideSweep(t *testing.T) {
	tests := []struct {
		name      string
		conf      int64
		histCount int64
		want      sweepAction
	}{
		{"fresh block waits", 1, 3, sweepSkip},
		{"just below maturity waits", db.MaturityConf - 1, 3, sweepSkip},
		{"at maturity with history matures", db.MaturityConf, 1, sweepMature},
		{"at maturity without history reaped", db.MaturityConf, 0, sweepDelete},
		{"past maturity reaped", db.MaturityConf + 1, 3, sweepDelete},
		{"far past maturity reaped", db.MaturityConf * 2, 0, sweepDelete},
		{"young without history waits", 10, 0, sweepSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decideSweep(tt.conf, tt.histCount); got != tt.want {
				t.Errorf("decideSweep(%d, %d) = %v, want %v", tt.conf, tt.histCount, got, tt.want)
			}
		})
	}
}

func TestClassifyRetry(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCause string
		wantDelay time.Duration
	}{
		{"not yet indexed", explorer.ErrNotIndexed, "not-indexed", retryNotIndexed},
		{"wrapped not indexed", fmt.Errorf("block 5: %w", explorer.ErrNotIndexed), "not-indexed", retryNotIndexed},
		{"height hash mismatch", errBlockMismatch, "validation", retryDecode},
		{"decode failure", errors.New("unexpected end of JSON input"), "decode", retryDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause, delay := classifyRetry(tt.err)
			if cause != tt.wantCause || delay != tt.wantDelay {
				t.Errorf("classifyRetry = (%s, %v), want (%s, %v)",
					cause, delay, tt.wantCause, tt.wantDelay)
			}
		})
	}
}
