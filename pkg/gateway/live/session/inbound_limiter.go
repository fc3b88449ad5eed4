package session

import "time"

// inboundAudioLimiter is a two-bucket token limiter on client audio chunks:
// one bucket counts chunks per second, the other bytes per second.
type inboundAudioLimiter struct {
	now        func() time.Time
	frames     tokenBucket
	bytes      tokenBucket
	lastRefill time.Time
}

type tokenBucket struct {
	rate   float64
	tokens float64
	max    float64
}

func newBucket(rate float64, burstSeconds int) tokenBucket {
	if rate <= 0 {
		return tokenBucket{}
	}
	max := rate * float64(burstSeconds)
	return tokenBucket{rate: rate, tokens: max, max: max}
}

func (b *tokenBucket) enabled() bool { return b.rate > 0 }

func (b *tokenBucket) refill(elapsed time.Duration) {
	if !b.enabled() {
		return
	}
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

func newInboundAudioLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundAudioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}
	return &inboundAudioLimiter{
		now:        now,
		frames:     newBucket(float64(fps), burstSeconds),
		bytes:      newBucket(float64(bps), burstSeconds),
		lastRefill: now(),
	}
}

// Allow reports whether a chunk of chunkBytes may be accepted now, consuming
// tokens if so. A nil limiter allows everything.
func (l *inboundAudioLimiter) Allow(chunkBytes int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.lastRefill); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
		l.lastRefill = now
	}

	if chunkBytes < 0 {
		chunkBytes = 0
	}
	if l.frames.enabled() && l.frames.tokens < 1 {
		return false
	}
	if l.bytes.enabled() && l.bytes.tokens < float64(chunkBytes) {
		return false
	}
	if l.frames.enabled() {
		l.frames.tokens--
	}
	if l.bytes.enabled() {
		l.bytes.tokens -= float64(chunkBytes)
	}
	return true
}
