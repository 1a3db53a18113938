package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClientError_MatchesThroughWrapping(t *testing.T) {
	err := NewClientError("Invalid request payload: (root): id is required")
	if err.Error() != "Invalid request payload: (root): id is required" {
		t.Fatalf("unexpected message: %q", err.Error())
	}

	wrapped := fmt.Errorf("handler: %w", err)
	if !IsClientError(wrapped) {
		t.Fatalf("expected wrapped client error to match")
	}
	if IsServerError(wrapped) {
		t.Fatalf("client error must not match as server error")
	}
}

func TestServerError_UnwrapsCause(t *testing.T) {
	err := NewServerError("no response from HTML rendering", context.DeadlineExceeded)
	if !IsServerError(err) {
		t.Fatalf("expected server error")
	}
	if IsClientError(err) {
		t.Fatalf("server error must not match as client error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be reachable through errors.Is")
	}
}

func TestServerError_FallsBackToCauseMessage(t *testing.T) {
	err := NewServerError("", errors.New("browser exited"))
	if got := err.Error(); got != "browser exited" {
		t.Fatalf("expected cause message, got %q", got)
	}
}

func TestPlainErrorIsNeitherKind(t *testing.T) {
	err := errors.New("boom")
	if IsClientError(err) || IsServerError(err) {
		t.Fatalf("plain errors must not be classified")
	}
}
