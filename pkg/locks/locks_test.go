package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisLocker(client, "test:lock:")
}

func TestRunKey(t *testing.T) {
	t.Run("sorted and deterministic", func(t *testing.T) {
		key := RunKey(map[string]interface{}{
			"upn":        "jdoe@example.com",
			"employeeId": "E1001",
		})
		want := "employeeId=E1001&upn=jdoe@example.com"
		if key != want {
			t.Errorf("expected %q, got %q", want, key)
		}
	})

	t.Run("same subject same key", func(t *testing.T) {
		a := RunKey(map[string]interface{}{"employeeId": "E1001", "upn": "jdoe@example.com"})
		b := RunKey(map[string]interface{}{"upn": "jdoe@example.com", "employeeId": "E1001"})
		if a != b {
			t.Errorf("expected identical keys, got %q and %q", a, b)
		}
	})

	t.Run("empty keys", func(t *testing.T) {
		if key := RunKey(nil); key != "" {
			t.Errorf("expected empty key, got %q", key)
		}
	})
}

func TestRedisLockerAcquireRelease(t *testing.T) {
	mr, locker := newTestLocker(t)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "employeeId=E1001", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unlock == nil {
		t.Fatal("expected unlock function")
	}

	if !mr.Exists("test:lock:employeeId=E1001") {
		t.Error("expected lock key in redis")
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mr.Exists("test:lock:employeeId=E1001") {
		t.Error("expected lock key removed after unlock")
	}
}

func TestRedisLockerContention(t *testing.T) {
	_, locker := newTestLocker(t)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "shared", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = locker.Acquire(ctx, "shared", 5*time.Second)
	if err == nil {
		t.Fatal("expected contention error")
	}
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	// A different key is not contended.
	other, err := locker.Acquire(ctx, "unrelated", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := other(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reacquired, err := locker.Acquire(ctx, "shared", 5*time.Second)
	if err != nil {
		t.Fatalf("expected lock free after unlock, got %v", err)
	}
	if err := reacquired(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedisLockerExpiredUnlockIsNoOp(t *testing.T) {
	mr, locker := newTestLocker(t)
	ctx := context.Background()

	staleUnlock, err := locker.Acquire(ctx, "employeeId=E1001", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mr.FastForward(200 * time.Millisecond)

	// The TTL has passed the lock to a new holder.
	unlock, err := locker.Acquire(ctx, "employeeId=E1001", 5*time.Second)
	if err != nil {
		t.Fatalf("expected lock free after expiry, got %v", err)
	}

	// The stale holder's release must not steal the new holder's lock.
	if err := staleUnlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists("test:lock:employeeId=E1001") {
		t.Error("expected new holder's lock to survive stale unlock")
	}

	if err := unlock(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedisLockerDefaultPrefix(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, "")

	unlock, err := locker.Acquire(context.Background(), "employeeId=E1001", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = unlock(context.Background()) }()

	if !mr.Exists("idle:lock:employeeId=E1001") {
		t.Error("expected default idle:lock: prefix")
	}
}
