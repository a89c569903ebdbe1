package ratelimit_test

import (
	"testing"
	"time"

	"github.com/mschienbein/deez-sub002/ratelimit"
)

func TestTrackDownloadSleep(t *testing.T) {
	t.Parallel()
	for range 100 {
		ms := ratelimit.TrackDownloadSleep().Milliseconds()
		if ms < 2000 || ms > 6000 {
			t.Errorf("expected 2000 <= ms <= 6000, got %d", ms)
		}
	}
}

func TestLimiterPacesRequests(t *testing.T) {
	t.Parallel()

	// 100 tokens/s with burst 1: 5 waits need at least ~40ms.
	l := ratelimit.NewLimiter(100, 1)

	start := time.Now()
	for range 5 {
		if err := l.Wait(t.Context()); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected limiter to pace requests, all 5 completed in %s", elapsed)
	}
}
