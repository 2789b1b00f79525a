package digest

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// newBWLimiter caps aggregate read throughput to bytesPerSec. The burst
// is one copy buffer so a single read never waits on itself.
func newBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := bufSize
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > rl.limiter.Burst() {
		p = p[:rl.limiter.Burst()]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
