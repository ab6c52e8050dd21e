package ratelimit

import (
	"context"
	"testing"
	"time"

	"tunepull/internal/core"
)

func TestLimiter_TryAcquire(t *testing.T) {
	l := New(map[core.Platform]int{core.PlatformNetease: 3})

	for i := 0; i < 3; i++ {
		if !l.TryAcquire(core.PlatformNetease) {
			t.Fatalf("acquire %d should succeed within the limit", i+1)
		}
	}
	if l.TryAcquire(core.PlatformNetease) {
		t.Error("acquire beyond the limit should fail")
	}
}

func TestLimiter_UnlimitedPlatform(t *testing.T) {
	l := New(map[core.Platform]int{core.PlatformNetease: 1})

	for i := 0; i < 50; i++ {
		if !l.TryAcquire(core.PlatformAppleMusic) {
			t.Fatal("platform without a configured limit must never block")
		}
	}
}

func TestLimiter_ZeroLimitIsUnlimited(t *testing.T) {
	l := New(map[core.Platform]int{core.PlatformNetease: 0})

	for i := 0; i < 10; i++ {
		if !l.TryAcquire(core.PlatformNetease) {
			t.Fatal("zero limit means unlimited")
		}
	}
}

func TestLimiter_PlatformsAreIndependent(t *testing.T) {
	l := New(map[core.Platform]int{
		core.PlatformNetease:      1,
		core.PlatformYouTubeMusic: 1,
	})

	if !l.TryAcquire(core.PlatformNetease) {
		t.Fatal("first netease acquire should succeed")
	}
	if l.TryAcquire(core.PlatformNetease) {
		t.Error("second netease acquire should fail")
	}
	if !l.TryAcquire(core.PlatformYouTubeMusic) {
		t.Error("youtube tokens must not be consumed by netease requests")
	}
}

func TestLimiter_AcquireCancellation(t *testing.T) {
	l := New(map[core.Platform]int{core.PlatformNetease: 1})
	l.TryAcquire(core.PlatformNetease)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, core.PlatformNetease)
	if err == nil {
		t.Fatal("Acquire on a full window should return the context error")
	}
}

func TestLimiter_GetStats(t *testing.T) {
	l := New(map[core.Platform]int{core.PlatformNetease: 5})
	l.TryAcquire(core.PlatformNetease)
	l.TryAcquire(core.PlatformNetease)

	stats := l.GetStats()
	if got := stats.InWindow[core.PlatformNetease]; got != 2 {
		t.Errorf("InWindow = %d, expected 2", got)
	}
}
