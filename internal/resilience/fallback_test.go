package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

var errInvalid = errors.New("invalid input")

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name      string
		failing   []string
		stop      func(error) bool
		errFor    error
		want      string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "primary succeeds",
			want:      "primary",
			wantCalls: []string{"primary"},
		},
		{
			name:      "fails over to secondary",
			failing:   []string{"primary"},
			want:      "secondary",
			wantCalls: []string{"primary", "secondary"},
		},
		{
			name:      "all fail",
			failing:   []string{"primary", "secondary"},
			wantCalls: []string{"primary", "secondary"},
			wantErr:   ErrAllFailed,
		},
		{
			name:      "stop ends the walk",
			failing:   []string{"primary"},
			errFor:    errInvalid,
			stop:      func(err error) bool { return errors.Is(err, errInvalid) },
			wantCalls: []string{"primary"},
			wantErr:   errInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := NewFallbackGroup("primary", "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
				Stop:           tt.stop,
			})
			fg.AddFallback("secondary", "secondary")

			fail := tt.errFor
			if fail == nil {
				fail = errTest
			}
			var calls []string
			got, err := ExecuteWithResult(fg, func(v string) (string, error) {
				calls = append(calls, v)
				if slices.Contains(tt.failing, v) {
					return "", fail
				}
				return v, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestExecuteWithResult_KeepsBackendSentinel(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	_, err := ExecuteWithResult(fg, func(int) (int, error) { return 0, errInvalid })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errInvalid) {
		t.Errorf("err = %v, want both ErrAllFailed and the backend error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.States()["primary"]; got != StateOpen {
		t.Fatalf("primary state = %v, want open", got)
	}

	var called []string
	if err := fg.Execute(func(v string) error { called = append(called, v); return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"secondary"}) {
		t.Errorf("called = %v, want only secondary", called)
	}
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names = %v", got)
	}
}
