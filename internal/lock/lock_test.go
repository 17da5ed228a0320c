package lock

import (
	"context"
	"errors"
	"testing"
)

func TestLocalLatchRejectsSecondHolder(t *testing.T) {
	latch := NewLocalLatch()
	ctx := context.Background()

	release, err := latch.TryAcquire(ctx, "2026-02")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := latch.TryAcquire(ctx, "2026-02"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if other, err := latch.TryAcquire(ctx, "2026-03"); err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	} else {
		_ = other(ctx)
	}

	_ = release(ctx)
	_ = release(ctx)
	again, err := latch.TryAcquire(ctx, "2026-02")
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	_ = again(ctx)
}
