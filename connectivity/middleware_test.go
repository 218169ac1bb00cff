package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestChain_Order(t *testing.T) {
	var trail []string
	mw := func(name string) HandlerMiddleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, p []byte) ([]byte, error) {
				trail = append(trail, name)
				return next(ctx, p)
			}
		}
	}
	Chain(mw("a"), mw("b"))(echo)(context.Background(), nil)
	if strings.Join(trail, ",") != "a,b" {
		t.Fatalf("got %v, want a,b", trail)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(slog.Default())(func(context.Context, []byte) ([]byte, error) { panic("boom") })
	var p *ErrPanic
	if _, err := h(context.Background(), nil); !errors.As(err, &p) || p.Value != "boom" {
		t.Fatalf("got %v, want ErrPanic", err)
	}
}

func TestCircuitBreaker_Cycle(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.Done(errors.New("x"))
	if cb.State() != BreakerClosed {
		t.Fatal("opened before threshold")
	}
	cb.Done(errors.New("x"))
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatal("want open and rejecting")
	}

	now = now.Add(time.Minute)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("got %v, want half-open", cb.State())
	}
	if !cb.Allow() || cb.Allow() {
		t.Fatal("half-open should admit exactly one probe")
	}
	cb.Done(errors.New("still down"))
	if cb.State() != BreakerOpen {
		t.Fatal("failed probe should reopen")
	}

	now = now.Add(time.Minute)
	cb.Allow()
	cb.Done(nil)
	if cb.State() != BreakerClosed {
		t.Fatalf("got %v, want closed after good probe", cb.State())
	}
}

func TestWithRetry_StopsOnCircuitOpen(t *testing.T) {
	calls := 0
	h := WithRetry(5, time.Millisecond, nil)(func(context.Context, []byte) ([]byte, error) {
		calls++
		return nil, &ErrCircuitOpen{Service: "svc"}
	})
	h(context.Background(), nil)
	if calls != 1 {
		t.Fatalf("calls %d, want 1", calls)
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	h := WithRetry(5, time.Hour, nil)(func(context.Context, []byte) ([]byte, error) {
		calls++
		cancel()
		return nil, errors.New("fail")
	})
	if _, err := h(ctx, nil); err == nil || calls != 1 {
		t.Fatalf("got %v after %d calls", err, calls)
	}
}

func TestWithFallback_SkipsCancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	usedLocal := false
	local := func(context.Context, []byte) ([]byte, error) { usedLocal = true; return nil, nil }
	h := WithFallback(local, "svc", nil)(func(ctx context.Context, _ []byte) ([]byte, error) {
		return nil, ctx.Err()
	})
	h(ctx, nil)
	if usedLocal {
		t.Fatal("fell back for a cancelled caller")
	}
}

func TestTimeout_Zero(t *testing.T) {
	h := Timeout(0)(func(ctx context.Context, _ []byte) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			return nil, errors.New("deadline set")
		}
		return nil, nil
	})
	if _, err := h(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}
