package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		retryable func(error) bool
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, nil, 1, false},
		{"succeeds after two failures", 2, nil, 3, false},
		{"gives up", 10, nil, 4, true},
		{"non-retryable stops", 5, func(error) bool { return false }, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), RetryConfig{
				Name:       "test",
				MaxRetries: 3,
				Backoff:    time.Millisecond,
				MaxBackoff: 2 * time.Millisecond,
				Retryable:  tt.retryable,
			}, func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return errTest
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errTest) {
				t.Errorf("err = %v, want the last attempt's error", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryConfig{Backoff: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want last error in chain", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
