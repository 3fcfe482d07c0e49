package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"mailpilot/pkg/circuitbreaker"
	"mailpilot/pkg/db"
)

type transportErr struct{ retry bool }

func (e transportErr) Error() string   { return "transport" }
func (e transportErr) Retryable() bool { return e.retry }

func TestIsRetryableError(t *testing.T) {
	var syntax error = &json.SyntaxError{}
	cases := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"json", fmt.Errorf("decode: %w", syntax), false, "json_decode_error"},
		{"declared retryable", fmt.Errorf("fetch: %w", transportErr{retry: true}), true, "transport_error"},
		{"declared permanent", transportErr{}, false, "permanent_error"},
		{"not found", fmt.Errorf("load: %w", db.ErrNoRows), false, "not_found"},
		{"duplicate", db.ErrUniqueViolation, false, "duplicate_key"},
		{"breaker", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"unknown", errors.New("weird"), false, "unknown_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, kind := IsRetryableError(tc.err)
			if ok != tc.retryable || kind != tc.kind {
				t.Fatalf("got (%v, %q), want (%v, %q)", ok, kind, tc.retryable, tc.kind)
			}
		})
	}
}
