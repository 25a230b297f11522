package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncClaim is a no-op.
func (n *NoopRecorder) IncClaim(outcome string) {}

// ObserveClaimDuration is a no-op.
func (n *NoopRecorder) ObserveClaimDuration(duration time.Duration) {}

// IncResolution is a no-op.
func (n *NoopRecorder) IncResolution(result string) {}

// IncMintRateLimited is a no-op.
func (n *NoopRecorder) IncMintRateLimited() {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(status string) {}
