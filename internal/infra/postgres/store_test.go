package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"syscall"
	"testing"

	"live-quiz-engine/internal/domain"
)

func TestClassifyTreatsDriverFailuresAsUnavailable(t *testing.T) {
	if err := classify("noop", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := classify("save", context.DeadlineExceeded)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestClassifyTreatsLocalFailuresAsPermanent(t *testing.T) {
	_, encodeErr := json.Marshal(math.Inf(1))
	if encodeErr == nil {
		t.Fatalf("expected an encoding error")
	}
	for _, err := range []error{encodeErr, errors.New("bun: unsupported type")} {
		got := classify("save", err)
		if errors.Is(got, domain.ErrStoreUnavailable) {
			t.Fatalf("%v must not be retried, got %v", err, got)
		}
		if !errors.Is(got, err) {
			t.Fatalf("expected the cause to be kept, got %v", got)
		}
	}
}

func TestClassifyTreatsConnectionFailuresAsUnavailable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	for _, err := range []error{refused, io.ErrUnexpectedEOF, io.EOF} {
		if got := classify("save", err); !errors.Is(got, domain.ErrStoreUnavailable) {
			t.Fatalf("%v should be retried, got %v", err, got)
		}
	}
}

func TestTransientSQLStates(t *testing.T) {
	cases := map[string]bool{
		"08006": true,
		"53300": true,
		"57P01": true,
		"23505": false,
		"42P01": false,
		"":      false,
	}
	for state, want := range cases {
		if got := transient(state); got != want {
			t.Fatalf("transient(%q) = %v, want %v", state, got, want)
		}
	}
}
