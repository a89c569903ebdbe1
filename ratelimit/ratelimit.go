package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// TrackDownloadSleep returns a jittered pause inserted between
// consecutive link downloads so batches do not hammer the media hosts
// in lockstep.
func TrackDownloadSleep() time.Duration {
	const (
		from = 2
		to   = 6
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec

	return time.Duration(millis) * time.Millisecond
}

// Limiter is a token bucket gating outbound media-host requests.
type Limiter struct {
	l *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{l: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.l.Wait(ctx); nil != err {
		return fmt.Errorf("failed to wait for rate limiter token: %w", err)
	}

	return nil
}
