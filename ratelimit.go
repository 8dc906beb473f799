package nio

import "golang.org/x/time/rate"

// maxShaperBurst caps a single reservation the same way the teacher's
// ThrottledWriter caps its chunk size against the limiter's burst, so one
// DrainTo spin never reserves an outsized slice of the bucket.
const maxShaperBurst = 256 * 1024

// rateShapedWriter wraps a streamio.Writer with non-blocking token-bucket
// shaping, adapted from the teacher's ThrottledWriter: that writer blocks
// on WaitN because the agent's upload path runs on its own goroutine, but
// the event loop thread must never park, so this variant writes a chunk
// (clamped to the burst) only when the bucket holds enough tokens for all
// of it right now, and otherwise returns a zero-byte write without taking
// any tokens — the caller's drain loop already treats a short
// write as "try again next spin", the same semantics OP_WRITE gives any
// other backpressured socket.
type rateShapedWriter struct {
	w       streamWriter
	limiter *rate.Limiter
	clock   Clock
}

// streamWriter is the narrow Write-only contract rateShapedWriter wraps;
// *streamio.OutputStream's DrainTo target satisfies it.
type streamWriter interface {
	Write(p []byte) (int, error)
}

// newRateShapedWriter returns w unchanged (bypass) when bytesPerSec <= 0,
// matching the teacher's bypass semantics exactly.
func newRateShapedWriter(w streamWriter, bytesPerSec int, clock Clock) streamWriter {
	if bytesPerSec <= 0 {
		return w
	}
	burst := bytesPerSec
	if burst > maxShaperBurst {
		burst = maxShaperBurst
	}
	return &rateShapedWriter{
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		clock:   clock,
	}
}

func (s *rateShapedWriter) Write(p []byte) (int, error) {
	chunk := len(p)
	if burst := s.limiter.Burst(); chunk > burst {
		chunk = burst
	}
	if chunk == 0 {
		return 0, nil
	}

	now := s.clock.Now()
	reservation := s.limiter.ReserveN(now, chunk)
	if !reservation.OK() {
		return 0, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return 0, nil
	}

	// A short write still consumes the full reservation; the bucket
	// recovers on the next tick, same as the teacher's bypass-on-short-
	// write tradeoff in ThrottledWriter.
	return s.w.Write(p[:chunk])
}
