package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stitch/internal/services"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrNetwork, "download", "fetch segment", "segment 3", cause)

	if !errors.Is(err, services.ErrNetwork) {
		t.Fatal("expected wrapped error to match marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	for _, fragment := range []string{"download", "fetch segment", "segment 3", "connection reset"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected message to contain %q, got %q", fragment, err.Error())
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "merge", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected nil marker to default to transient")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", services.Wrap(services.ErrTimeout, "normalize", "", "", nil), true},
		{"network", services.Wrap(services.ErrNetwork, "download", "", "", nil), true},
		{"transient", services.Wrap(services.ErrTransient, "trim", "", "", nil), true},
		{"validation", services.Wrap(services.ErrValidation, "submit", "", "", nil), false},
		{"filesystem", services.Wrap(services.ErrFileSystem, "verify", "", "", nil), false},
		{"canceled", services.Wrap(services.ErrTimeout, "download", "", "", context.Canceled), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTaskID(ctx, "task-abc")
	ctx = services.WithPhase(ctx, "merge")
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.TaskIDFromContext(ctx); !ok || id != "task-abc" {
		t.Fatalf("task id not propagated, got %q", id)
	}
	if phase, ok := services.PhaseFromContext(ctx); !ok || phase != "merge" {
		t.Fatalf("phase not propagated, got %q", phase)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id not propagated, got %q", rid)
	}
	if _, ok := services.TaskIDFromContext(context.Background()); ok {
		t.Fatal("expected empty context to report absence")
	}
}
