package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.Obtain(ctx, "recon", time.Minute)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if _, err := l.Obtain(ctx, "recon", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
	if _, err := l.Obtain(ctx, "other", time.Minute); err != nil {
		t.Fatalf("independent key: %v", err)
	}
	if err := unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := l.Obtain(ctx, "recon", time.Minute); err != nil {
		t.Fatalf("Obtain after unlock: %v", err)
	}
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "recon", time.Millisecond)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := l.Obtain(ctx, "recon", time.Minute); err != nil {
		t.Fatalf("expired lock was not taken over: %v", err)
	}
	_ = stale(ctx)
	if _, err := l.Obtain(ctx, "recon", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatal("stale unlock released the new holder")
	}
}
