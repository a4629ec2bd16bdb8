package bancache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeLookup struct {
	calls int
	bans  map[string]string
}

func (f *fakeLookup) GetBan(ctx context.Context, communityID, address string) (string, bool, error) {
	f.calls++
	reason, ok := f.bans[communityID+":"+address]
	return reason, ok, nil
}

func setupTestCache(t *testing.T, lookup BanLookup, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewWithClient(client, lookup, ttl), s
}

func TestCheckBannedAddress(t *testing.T) {
	lookup := &fakeLookup{bans: map[string]string{"ethereum:0x123": "spam"}}
	cache, s := setupTestCache(t, lookup, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	reason, banned, err := cache.Check(ctx, "ethereum", "0x123")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !banned {
		t.Fatal("expected banned")
	}
	if reason != "spam" {
		t.Errorf("reason = %q, want spam", reason)
	}
}

func TestCheckCachesBothOutcomes(t *testing.T) {
	lookup := &fakeLookup{bans: map[string]string{"ethereum:0xBAD": "abuse"}}
	cache, s := setupTestCache(t, lookup, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, banned, err := cache.Check(ctx, "ethereum", "0xBAD"); err != nil || !banned {
			t.Fatalf("banned check %d: banned=%v err=%v", i, banned, err)
		}
		if _, banned, err := cache.Check(ctx, "ethereum", "0xOK"); err != nil || banned {
			t.Fatalf("clean check %d: banned=%v err=%v", i, banned, err)
		}
	}

	// One database hit per distinct key, the rest served from cache.
	if lookup.calls != 2 {
		t.Errorf("lookup calls = %d, want 2", lookup.calls)
	}
}

func TestCheckExpiresWithTTL(t *testing.T) {
	lookup := &fakeLookup{bans: map[string]string{}}
	cache, s := setupTestCache(t, lookup, time.Second)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if _, _, err := cache.Check(ctx, "ethereum", "0x1"); err != nil {
		t.Fatalf("first check: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, _, err := cache.Check(ctx, "ethereum", "0x1"); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if lookup.calls != 2 {
		t.Errorf("lookup calls = %d, want 2 after expiry", lookup.calls)
	}
}

func TestInvalidate(t *testing.T) {
	lookup := &fakeLookup{bans: map[string]string{}}
	cache, s := setupTestCache(t, lookup, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if _, banned, _ := cache.Check(ctx, "ethereum", "0x9"); banned {
		t.Fatal("unexpected ban")
	}

	// The address gets banned and the cache entry is dropped.
	lookup.bans["ethereum:0x9"] = "rule violation"
	if err := cache.Invalidate(ctx, "ethereum", "0x9"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	reason, banned, err := cache.Check(ctx, "ethereum", "0x9")
	if err != nil {
		t.Fatalf("Check after invalidate: %v", err)
	}
	if !banned || reason != "rule violation" {
		t.Errorf("got banned=%v reason=%q, want fresh ban state", banned, reason)
	}
}
